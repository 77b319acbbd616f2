package i18n

import (
	"context"
	"strings"
	"testing"
)

func scenarioProvider() *Provider {
	msgs := Messages{
		"en": Tree{"common": map[string]any{"unknown": "Unknown"}},
		"zh": Tree{"common": map[string]any{"unknown": "未知"}},
	}
	return NewProvider(msgs, "en", newFakePrefs())
}

func TestLocaleSwitchScenario(t *testing.T) {
	p := scenarioProvider()
	if got := p.T("common.unknown", nil); got != "Unknown" {
		t.Fatalf("en: got %q", got)
	}
	p.SetLocale("zh")
	if got := p.T("common.unknown", nil); got != "未知" {
		t.Fatalf("zh: got %q", got)
	}
	if got := p.T("common.missing", nil); got != "common.missing" {
		t.Fatalf("missing: got %q", got)
	}
}

func TestLocaleSwitchVisibleInSameTick(t *testing.T) {
	p := scenarioProvider()
	var seen string
	p.Subscribe(func() { seen = p.T("common.unknown", nil) })
	p.SetLocale("zh")
	if seen != "未知" {
		t.Fatalf("subscriber resolved against stale tree: %q", seen)
	}
}

func TestProviderWithoutStorePinsDefault(t *testing.T) {
	msgs := Messages{
		"en": Tree{"common": map[string]any{"unknown": "Unknown"}},
		"zh": Tree{"common": map[string]any{"unknown": "未知"}},
	}
	p := NewProvider(msgs, "en", nil)
	p.SetLocale("zh")
	// Without backing storage the snapshot cannot move; anything that needs
	// real switching must supply a store, even an in-memory one.
	if got := p.Locale(); got != "en" {
		t.Fatalf("nil-prefs locale moved to %q", got)
	}
	if got := p.T("common.unknown", nil); got != "Unknown" {
		t.Fatalf("nil-prefs translation moved: %q", got)
	}
}

func TestAbsentLocaleFallsBackWithoutError(t *testing.T) {
	p := scenarioProvider()
	p.SetLocale("fr")
	if got := p.Locale(); got != "fr" {
		t.Fatalf("locale not stored verbatim: %q", got)
	}
	if got := p.T("common.unknown", nil); got != "Unknown" {
		t.Fatalf("expected default-locale resolution, got %q", got)
	}
	if p.Messages() == nil {
		t.Fatalf("expected default tree for absent locale")
	}
}

func TestViewIsConsistentTriple(t *testing.T) {
	p := scenarioProvider()
	view := p.View()
	p.SetLocale("zh")
	// The captured view keeps resolving against the tree it was taken with.
	if got := view.T("common.unknown", nil); got != "Unknown" {
		t.Fatalf("view drifted to new locale: %q", got)
	}
	fresh := p.View()
	if fresh.Locale != "zh" {
		t.Fatalf("fresh view locale: %q", fresh.Locale)
	}
	if got := fresh.T("common.unknown", nil); got != "未知" {
		t.Fatalf("fresh view translation: %q", got)
	}
}

func TestFromContextRoundTrip(t *testing.T) {
	p := scenarioProvider()
	ctx := NewContext(context.Background(), p)
	if got := FromContext(ctx); got != p {
		t.Fatalf("expected same provider back")
	}
}

func TestFromContextWithoutProviderPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "Provider") {
			t.Fatalf("panic does not identify the missing provider: %v", r)
		}
	}()
	FromContext(context.Background())
}
