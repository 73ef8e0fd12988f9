package asmsym

import (
	"fmt"
	"math/rand"
	"strings"
)

// Key identifies one point in symbolic time. Every formula produced at a
// point is named after its key so formulas from different keys never alias.
type Key string

// Symbol name separators.
const (
	// KnownSeparator joins an entity to the key it was defined at.
	KnownSeparator = "!"

	// FreshSeparator joins an entity to the key at which it became unknown.
	FreshSeparator = "?"
)

// SymbolName returns the name of entity at key.
func SymbolName(entity string, key Key) string {
	return entity + KnownSeparator + string(key)
}

// FreshName returns the name of an unconstrained value of entity introduced at key.
func FreshName(entity string, key Key) string {
	return entity + FreshSeparator + string(key)
}

// ParseSymbolName splits a symbol name into entity and key.
// Returns false if name was not produced by SymbolName or FreshName.
func ParseSymbolName(name string) (entity string, key Key, fresh bool, ok bool) {
	if i := strings.LastIndex(name, KnownSeparator); i > 0 {
		return name[:i], Key(name[i+1:]), false, true
	} else if i := strings.LastIndex(name, FreshSeparator); i > 0 {
		return name[:i], Key(name[i+1:]), true, true
	}
	return "", "", false, false
}

// KeyGenerator issues keys that are unique for the generator's lifetime.
// Generators with the same seed issue the same sequence.
type KeyGenerator struct {
	rand   *rand.Rand
	issued map[Key]struct{}
}

// NewKeyGenerator returns a new instance of KeyGenerator.
func NewKeyGenerator(seed int64) *KeyGenerator {
	return &KeyGenerator{
		rand:   rand.New(rand.NewSource(seed)),
		issued: make(map[Key]struct{}),
	}
}

// Next returns a key that has not been issued before.
func (g *KeyGenerator) Next() Key {
	for {
		key := Key(fmt.Sprintf("%016x", g.rand.Uint64()))
		if _, ok := g.issued[key]; ok {
			continue
		}
		g.issued[key] = struct{}{}
		return key
	}
}

// N returns the number of keys issued.
func (g *KeyGenerator) N() int {
	return len(g.issued)
}
