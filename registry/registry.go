// Package registry is the style registry: a small key/value store holding
// the user's phrase map and the global highlight switch. Every highlight
// cycle reads it fresh; selection capture and the HTTP API write to it.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/phrasemark/phrase"
)

// Storage keys.
const (
	KeyPhraseStyles     = "phraseStyles"
	KeyHighlightEnabled = "highlightEnabled"
)

// ErrPhraseExists is returned by PutPhrase when the phrase is already stored
// and overwrite was not requested.
var ErrPhraseExists = errors.New("registry: phrase already exists")

// StorageError reports a failed registry read or write.
type StorageError struct {
	Op  string // "get" or "set"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("registry: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Values maps keys to their JSON-encoded values. A key missing from the map
// is absent from the store.
type Values map[string]json.RawMessage

// Store is the registry contract. Implementations return *StorageError on
// failure.
type Store interface {
	// Get returns the values stored under keys. Absent keys are omitted.
	Get(ctx context.Context, keys ...string) (Values, error)
	// Set writes every value in v.
	Set(ctx context.Context, v Values) error
}

// Updater is implemented by stores that can read, change and write one key
// as a single step. fn receives nil when the key is absent; returning an
// error aborts the write.
type Updater interface {
	Update(ctx context.Context, key string, fn func(old json.RawMessage) (json.RawMessage, error)) error
}

// storeLocks serializes updates on stores that are not Updaters.
var storeLocks sync.Map // Store -> *sync.Mutex

func update(ctx context.Context, st Store, key string, fn func(old json.RawMessage) (json.RawMessage, error)) error {
	if u, ok := st.(Updater); ok {
		return u.Update(ctx, key, fn)
	}
	mu, _ := storeLocks.LoadOrStore(st, new(sync.Mutex))
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()
	v, err := st.Get(ctx, key)
	if err != nil {
		return err
	}
	raw, err := fn(v[key])
	if err != nil {
		return err
	}
	return st.Set(ctx, Values{key: raw})
}

// updatePhrases applies edit to the stored phrase map atomically.
func updatePhrases(ctx context.Context, st Store, edit func(m *phrase.Map) error) error {
	return update(ctx, st, KeyPhraseStyles, func(old json.RawMessage) (json.RawMessage, error) {
		v := Values{}
		if old != nil {
			v[KeyPhraseStyles] = old
		}
		s, err := Decode(v)
		if err != nil {
			return nil, err
		}
		if err := edit(s.Phrases); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(s.Phrases)
		if err != nil {
			return nil, fmt.Errorf("registry: encode phrases: %w", err)
		}
		return raw, nil
	})
}

// Decode turns raw values into settings. A missing phrase map is empty;
// highlighting is enabled unless explicitly stored as false.
func Decode(v Values) (phrase.Settings, error) {
	s := phrase.Settings{Phrases: phrase.NewMap(), Enabled: true}
	if raw, ok := v[KeyPhraseStyles]; ok {
		if err := json.Unmarshal(raw, s.Phrases); err != nil {
			return phrase.Settings{Phrases: phrase.NewMap(), Enabled: true},
				fmt.Errorf("registry: decode %s: %w", KeyPhraseStyles, err)
		}
	}
	if raw, ok := v[KeyHighlightEnabled]; ok {
		var enabled bool
		if err := json.Unmarshal(raw, &enabled); err == nil {
			s.Enabled = enabled
		}
	}
	return s, nil
}

// Load reads the current settings. A failed read is logged and treated as
// an empty registry, so the caller always gets usable settings.
func Load(ctx context.Context, st Store, logger *slog.Logger) phrase.Settings {
	if logger == nil {
		logger = slog.Default()
	}
	v, err := st.Get(ctx, KeyPhraseStyles, KeyHighlightEnabled)
	if err != nil {
		logger.Warn("registry: load failed, using empty settings", "error", err)
		return phrase.Settings{Phrases: phrase.NewMap(), Enabled: true}
	}
	s, err := Decode(v)
	if err != nil {
		logger.Warn("registry: stored settings unreadable, using empty settings", "error", err)
	}
	return s
}

// Seed writes an empty phrase map and enables highlighting when no phrase
// map is stored yet. It reports whether anything was written.
func Seed(ctx context.Context, st Store) (bool, error) {
	v, err := st.Get(ctx, KeyPhraseStyles)
	if err != nil {
		return false, err
	}
	if _, ok := v[KeyPhraseStyles]; ok {
		return false, nil
	}
	err = st.Set(ctx, Values{
		KeyPhraseStyles:     json.RawMessage(`{}`),
		KeyHighlightEnabled: json.RawMessage(`true`),
	})
	return err == nil, err
}

// Phrases reads the stored phrase map. Unlike Load it reports failures.
func Phrases(ctx context.Context, st Store) (*phrase.Map, error) {
	v, err := st.Get(ctx, KeyPhraseStyles)
	if err != nil {
		return nil, err
	}
	s, err := Decode(v)
	if err != nil {
		return nil, err
	}
	return s.Phrases, nil
}

// SavePhrases replaces the stored phrase map.
func SavePhrases(ctx context.Context, st Store, m *phrase.Map) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("registry: encode phrases: %w", err)
	}
	return st.Set(ctx, Values{KeyPhraseStyles: raw})
}

// PutPhrase stores style for p. The phrase is trimmed and must not be
// empty; the style is sanitized. An existing phrase is replaced only when
// overwrite is set, otherwise ErrPhraseExists is returned.
func PutPhrase(ctx context.Context, st Store, p, style string, overwrite bool) error {
	key, err := phrase.Normalize(p)
	if err != nil {
		return err
	}
	return updatePhrases(ctx, st, func(m *phrase.Map) error {
		if m.Has(key) && !overwrite {
			return fmt.Errorf("%w: %q", ErrPhraseExists, key)
		}
		return m.Set(key, phrase.SanitizeStyle(style))
	})
}

// errUnchanged aborts an update that has nothing to write.
var errUnchanged = errors.New("registry: unchanged")

// DeletePhrase removes p. It reports whether the phrase was present.
func DeletePhrase(ctx context.Context, st Store, p string) (bool, error) {
	err := updatePhrases(ctx, st, func(m *phrase.Map) error {
		if !m.Delete(p) {
			return errUnchanged
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ClearPhrases removes every phrase.
func ClearPhrases(ctx context.Context, st Store) error {
	return SavePhrases(ctx, st, phrase.NewMap())
}

// SetEnabled stores the global highlight switch.
func SetEnabled(ctx context.Context, st Store, enabled bool) error {
	raw, _ := json.Marshal(enabled)
	return st.Set(ctx, Values{KeyHighlightEnabled: raw})
}
