package build

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ije/gox/crypto/rand"
)

// importRewriter rewrites the import specifiers of one module during a compile and records its dependencies.
//
// Every local dependency gets a unique token as its version slot, the tokens are fixed-width and absent from
// the source. Once the compile is done the token occurrences become the slot offsets of the dependency and
// are overwritten with the placeholder. Filling a slot later never moves any other byte of the output.
type importRewriter struct {
	resolver *Resolver
	owner    *Module
	nonce    string
	lock     sync.Mutex
	records  map[string]*importRecord
	slots    int
	err      error
}

// A slot token is the nonce followed by a base 36 counter, as wide as a version token.
const (
	slotNonceLen   = 5
	slotCounterLen = FingerprintPrefixLen - slotNonceLen
	maxSlots       = 36 * 36 * 36 * 36
)

type importRecord struct {
	dep   Dependency
	token string
}

var reImportSpecifier = regexp.MustCompile(`((?:\bfrom|\bimport)\s*\(?\s*)(?:"([^"\r\n]+)"|'([^'\r\n]+)')`)

func newImportRewriter(resolver *Resolver, owner *Module, source []byte) *importRewriter {
	var nonce string
	for {
		nonce = "q" + rand.Hex.String(slotNonceLen-1)
		if !bytes.Contains(source, []byte(nonce)) {
			break
		}
	}
	return &importRewriter{
		resolver: resolver,
		owner:    owner,
		nonce:    nonce,
		records:  map[string]*importRecord{},
	}
}

// rewrite returns the specifier the emitted code imports instead of the given one.
func (w *importRewriter) rewrite(specifier string) string {
	imp, ok := w.resolver.Resolve(w.owner, specifier)
	if !ok {
		return specifier
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	rec, ok := w.records[imp.dep.Path]
	if !ok {
		rec = &importRecord{dep: imp.dep}
		if imp.slot {
			if w.slots >= maxSlots {
				if w.err == nil {
					w.err = fmt.Errorf("too many local imports, the limit is %d", maxSlots)
				}
				return specifier
			}
			counter := strconv.FormatInt(int64(w.slots), 36)
			rec.token = w.nonce + strings.Repeat("0", slotCounterLen-len(counter)) + counter
			w.slots++
		}
		w.records[imp.dep.Path] = rec
	}
	if rec.token != "" {
		return imp.target + "." + rec.token + ".js"
	}
	return imp.target
}

func (w *importRewriter) error() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.err
}

// finish turns the tokens in the output into slots filled with the placeholder, and returns the
// dependencies sorted by path. Local dependencies whose import was dropped from the output are omitted.
func (w *importRewriter) finish(output []byte) []Dependency {
	w.lock.Lock()
	defer w.lock.Unlock()

	deps := make([]Dependency, 0, len(w.records))
	for _, rec := range w.records {
		dep := rec.dep
		if rec.token != "" {
			token := []byte(rec.token)
			for offset := 0; ; {
				i := bytes.Index(output[offset:], token)
				if i < 0 {
					break
				}
				dep.Slots = append(dep.Slots, offset+i)
				copy(output[offset+i:], Placeholder)
				offset += i + len(token)
			}
			if len(dep.Slots) == 0 {
				continue
			}
		}
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool {
		return deps[i].Path < deps[j].Path
	})
	return deps
}

// rewriteRawImports rewrites the quoted specifiers following `from` or `import` in raw javascript.
// Only the specifiers found by the import scanner are touched.
func rewriteRawImports(source []byte, specifiers []string, rewrite func(string) string) []byte {
	known := make(map[string]bool, len(specifiers))
	for _, s := range specifiers {
		known[s] = true
	}
	return reImportSpecifier.ReplaceAllFunc(source, func(match []byte) []byte {
		sub := reImportSpecifier.FindSubmatch(match)
		quote := byte('"')
		specifier := sub[2]
		if specifier == nil {
			quote = '\''
			specifier = sub[3]
		}
		if !known[string(specifier)] {
			return match
		}
		var b bytes.Buffer
		b.Write(sub[1])
		b.WriteByte(quote)
		b.WriteString(rewrite(string(specifier)))
		b.WriteByte(quote)
		return b.Bytes()
	})
}

// fillSlots writes the version token of every local dependency into its slots.
func fillSlots(content []byte, deps []Dependency, token func(dep Dependency) string) {
	for _, dep := range deps {
		if len(dep.Slots) == 0 {
			continue
		}
		t := token(dep)
		for _, offset := range dep.Slots {
			copy(content[offset:offset+FingerprintPrefixLen], t)
		}
	}
}

// validSlots reports whether every slot lies within the content.
func validSlots(content []byte, deps []Dependency) bool {
	for _, dep := range deps {
		for _, offset := range dep.Slots {
			if offset < 0 || offset+FingerprintPrefixLen > len(content) {
				return false
			}
		}
	}
	return true
}
