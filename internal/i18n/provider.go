package i18n

import "context"

// Provider ties the message catalog to a locale store. It is the single
// surface the rest of the application consumes: current locale, locale
// switching, translation, and raw tree access.
type Provider struct {
	messages Messages
	def      string
	store    *Store
}

// View is one consistent (locale, messages, translate) triple. Every field
// is derived from the same locale read, so a consumer holding a View can
// never see a locale from one tick and a tree from another.
type View struct {
	Locale   string
	Messages Tree
	T        func(key string, params map[string]any) string
}

// NewProvider builds a Provider over the given catalog. defaultLocale is
// the fallback for missing preferences and unknown locales; prefs may be
// nil when no durable storage exists.
func NewProvider(messages Messages, defaultLocale string, prefs Prefs) *Provider {
	return &Provider{
		messages: messages,
		def:      defaultLocale,
		store:    NewStore(prefs, defaultLocale),
	}
}

// Locale returns the active locale.
func (p *Provider) Locale() string { return p.store.Snapshot() }

// ServerLocale returns the locale fixed at construction time.
func (p *Provider) ServerLocale() string { return p.store.ServerSnapshot() }

// SetLocale switches the active locale: persist, then notify subscribers
// synchronously before returning.
func (p *Provider) SetLocale(next string) { p.store.SetLocale(next) }

// Subscribe registers fn to run after every locale change.
func (p *Provider) Subscribe(fn func()) func() { return p.store.Subscribe(fn) }

// OnPersistError registers fn to observe locale writes the preference store
// rejected.
func (p *Provider) OnPersistError(fn func(error)) { p.store.OnPersistError(fn) }

// T translates key for the active locale. params is optional.
func (p *Provider) T(key string, params map[string]any) string {
	return Translate(p.messages, p.Locale(), p.def, key, params)
}

// Messages returns the active locale's tree, or the default locale's tree
// when the active locale is absent from the catalog.
func (p *Provider) Messages() Tree {
	if tree, ok := p.messages[p.Locale()]; ok {
		return tree
	}
	return p.messages[p.def]
}

// Catalog returns the full locale -> tree catalog.
func (p *Provider) Catalog() Messages { return p.messages }

// View captures the current locale once and returns the matching triple.
func (p *Provider) View() View {
	locale := p.Locale()
	tree, ok := p.messages[locale]
	if !ok {
		tree = p.messages[p.def]
	}
	return View{
		Locale:   locale,
		Messages: tree,
		T: func(key string, params map[string]any) string {
			return Translate(p.messages, locale, p.def, key, params)
		},
	}
}

type ctxKey struct{}

// NewContext attaches p to ctx for FromContext.
func NewContext(ctx context.Context, p *Provider) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the Provider attached to ctx. Calling it outside a
// NewContext scope is a programming error and panics immediately rather
// than degrading to a default.
func FromContext(ctx context.Context) *Provider {
	p, ok := ctx.Value(ctxKey{}).(*Provider)
	if !ok {
		panic("i18n: FromContext called without a Provider in context")
	}
	return p
}
