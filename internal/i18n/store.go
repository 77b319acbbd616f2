package i18n

import "sync"

// PrefKey is the preference-store key the selected locale persists under.
const PrefKey = "language"

// Prefs is the durable preference surface the locale store reads and writes.
// A nil Prefs means no durable storage is available (e.g. first run before
// the store opens); reads then resolve to the default locale.
type Prefs interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Store exposes the active locale as a subscribable value independent of any
// UI tree. Reads go straight to the preference store; the only mutation path
// is SetLocale, which persists first and then notifies every subscriber
// before returning.
type Store struct {
	mu        sync.Mutex
	prefs     Prefs
	def       string
	server    string
	nextID    int
	subs      []subscription
	onPersist func(error)
}

type subscription struct {
	id int
	fn func()
}

// NewStore builds a locale store with the given durable storage and default
// locale. The server snapshot is fixed to the value readable at construction
// time and never changes afterwards.
func NewStore(prefs Prefs, defaultLocale string) *Store {
	s := &Store{prefs: prefs, def: defaultLocale}
	s.server = s.Snapshot()
	return s
}

// Snapshot returns the currently persisted locale, or the default when no
// preference is stored or storage is unavailable.
func (s *Store) Snapshot() string {
	if s.prefs == nil {
		return s.def
	}
	v, ok := s.prefs.Get(PrefKey)
	if !ok || v == "" {
		return s.def
	}
	return v
}

// ServerSnapshot returns the locale captured at construction time. It is
// stable for the store's lifetime so the first render of every consumer
// agrees with it.
func (s *Store) ServerSnapshot() string { return s.server }

// Subscribe registers fn to run after every locale change and returns a
// cancel function. Callbacks run synchronously, in registration order.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// OnPersistError registers fn to observe failed preference writes. Without
// it a failed write is silent: subscribers are notified of a change that
// Snapshot will not reflect.
func (s *Store) OnPersistError(fn func(error)) {
	s.mu.Lock()
	s.onPersist = fn
	s.mu.Unlock()
}

// SetLocale persists next and synchronously notifies all subscribers. The
// value is not validated against the known locale set; translating with an
// unknown locale falls back to the default locale's tree. A failed write
// does not stop the notification; it is reported through OnPersistError.
func (s *Store) SetLocale(next string) {
	if s.prefs != nil {
		if err := s.prefs.Set(PrefKey, next); err != nil {
			s.mu.Lock()
			fn := s.onPersist
			s.mu.Unlock()
			if fn != nil {
				fn(err)
			}
		}
	}
	s.mu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.fn()
	}
}
