package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Tree is the message tree for a single locale. Values are either string
// leaves or nested map[string]any subtrees, exactly as decoded from the
// locale files.
type Tree = map[string]any

// Messages maps a locale code to its message tree. It is built once at
// startup and never mutated afterwards.
type Messages map[string]Tree

//go:embed locales/*.json
var localeFS embed.FS

// unmarshalFuncs maps a file extension (without dot) to its decoder.
var unmarshalFuncs = map[string]func([]byte, any) error{
	"json": json.Unmarshal,
	"toml": toml.Unmarshal,
	"yaml": yamlUnmarshal,
	"yml":  yamlUnmarshal,
}

func yamlUnmarshal(b []byte, v any) error { return yaml.Unmarshal(b, v) }

// DefaultMessages returns the built-in catalog embedded under locales/.
func DefaultMessages() Messages {
	m, err := LoadFS(localeFS, "locales")
	if err != nil {
		// The embedded catalog is part of the build; a decode failure here is
		// a packaging bug, not a runtime condition.
		panic(fmt.Sprintf("i18n: embedded catalog: %v", err))
	}
	return m
}

// LoadFS reads every locale file under dir. The locale code is the file name
// without extension ("en.json" -> "en"); the extension selects the decoder
// (json, toml, yaml, yml). Unknown extensions are skipped.
func LoadFS(fsys fs.FS, dir string) (Messages, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read dir %s: %w", dir, err)
	}
	msgs := Messages{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.TrimPrefix(path.Ext(name), ".")
		unmarshal, ok := unmarshalFuncs[ext]
		if !ok {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", name, err)
		}
		tree := Tree{}
		if err := unmarshal(b, &tree); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", name, err)
		}
		msgs[strings.TrimSuffix(name, path.Ext(name))] = tree
	}
	return msgs, nil
}

// Locales returns the locale codes present in the catalog, sorted.
func (m Messages) Locales() []string {
	out := make([]string, 0, len(m))
	for code := range m {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// KeyCount counts string leaves in one locale's tree. Used by diagnostics.
func (m Messages) KeyCount(locale string) int {
	return countLeaves(m[locale])
}

func countLeaves(node any) int {
	switch v := node.(type) {
	case string:
		return 1
	case map[string]any:
		n := 0
		for _, child := range v {
			n += countLeaves(child)
		}
		return n
	default:
		return 0
	}
}
