package importmap

import (
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/ije/gox/utils"
	"github.com/postjs/compiler/internal/jsonc"
)

// ImportMap is a table of specifier substitutions, following the shape of the browser import maps:
// https://developer.mozilla.org/en-US/docs/Web/HTML/Reference/Elements/script/type/importmap
type ImportMap struct {
	Imports map[string]string            `json:"imports,omitempty"`
	Scopes  map[string]map[string]string `json:"scopes,omitempty"`
}

// Parse parses an import map from JSON, comments are allowed.
func Parse(data []byte) (im *ImportMap, err error) {
	im = &ImportMap{}
	if err = json.Unmarshal(jsonc.Strip(data), im); err != nil {
		return nil, err
	}
	return
}

// LoadFile reads the import map file. A missing file yields an empty import map.
func LoadFile(filename string) (*ImportMap, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return &ImportMap{}, nil
		}
		return nil, err
	}
	return Parse(data)
}

// Len returns the number of top-level imports.
func (im *ImportMap) Len() int {
	if im == nil {
		return 0
	}
	return len(im.Imports)
}

// Resolve substitutes the specifier with the import map. Exact keys are matched first, then keys
// ending with "/" are matched as prefixes, the longest prefix wins. When the referrer is under a
// scope, the imports of the most specific scope are used.
// It returns the specifier unchanged and false when nothing matches.
func (im *ImportMap) Resolve(specifier string, referrer string) (string, bool) {
	if im == nil {
		return specifier, false
	}

	var hash string
	specifier, hash = utils.SplitByFirstByte(specifier, '#')
	if hash != "" {
		hash = "#" + hash
	}

	if referrer != "" && len(im.Scopes) > 0 {
		scopeKeys := make(ScopeKeys, 0, len(im.Scopes))
		for prefix := range im.Scopes {
			scopeKeys = append(scopeKeys, prefix)
		}
		sort.Sort(scopeKeys)
		for _, scopeKey := range scopeKeys {
			if strings.HasPrefix(referrer, scopeKey) {
				if resolved, ok := resolveWith(im.Scopes[scopeKey], specifier); ok {
					return resolved + hash, true
				}
				break
			}
		}
	}

	if resolved, ok := resolveWith(im.Imports, specifier); ok {
		return resolved + hash, true
	}
	return specifier + hash, false
}

func resolveWith(imports map[string]string, specifier string) (string, bool) {
	if len(imports) == 0 {
		return "", false
	}
	if v, ok := imports[specifier]; ok {
		return v, true
	}
	var match string
	for k := range imports {
		if strings.HasSuffix(k, "/") && strings.HasPrefix(specifier, k) && len(k) > len(match) {
			match = k
		}
	}
	if match != "" {
		return imports[match] + specifier[len(match):], true
	}
	return "", false
}
