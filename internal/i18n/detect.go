package i18n

import (
	locale "github.com/jeandeaual/go-locale"
	"golang.org/x/text/language"
)

// SystemLocale matches the OS locale preference against the supported codes
// and returns the best match, or fallback when nothing matches or the OS
// gives no answer. Used to seed the default locale before any preference is
// persisted.
func SystemLocale(supported []string, fallback string) string {
	codes := make([]string, 0, len(supported))
	tags := make([]language.Tag, 0, len(supported))
	for _, code := range supported {
		tag, err := language.Parse(code)
		if err != nil {
			continue
		}
		codes = append(codes, code)
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return fallback
	}

	userLocales, err := locale.GetLocales()
	if err != nil || len(userLocales) == 0 {
		return fallback
	}
	prefs := make([]language.Tag, 0, len(userLocales))
	for _, ul := range userLocales {
		if tag, err := language.Parse(ul); err == nil {
			prefs = append(prefs, tag)
		}
	}
	if len(prefs) == 0 {
		return fallback
	}

	_, idx, conf := language.NewMatcher(tags).Match(prefs...)
	if conf == language.No {
		return fallback
	}
	return codes[idx]
}
