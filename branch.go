package asmsym

import (
	"fmt"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
)

// BranchInfo records the condition assumed at one divergence and the side
// the path took.
type BranchInfo struct {
	Key       string // divergence identifier
	Condition Expr   // boolean condition under which the branch is taken
	Taken     bool
	Line      int
}

// BranchKeyForLine returns the divergence identifier used for a branch at
// line when paths are built backward.
func BranchKeyForLine(line int) string {
	return "L" + strconv.Itoa(line)
}

// Expr returns the condition asserted on this path.
func (info *BranchInfo) Expr() Expr {
	if info.Taken {
		return info.Condition
	}
	return NewNotExpr(info.Condition)
}

// String returns a description of the assumption.
func (info *BranchInfo) String() string {
	return fmt.Sprintf("%s@%d taken=%v %s", info.Key, info.Line, info.Taken, info.Condition)
}

// BranchInfoStore is an insertion-ordered set of branch assumptions keyed by
// divergence identifier. Stores are copy-on-write; Add returns a new store.
type BranchInfoStore struct {
	keys  []string
	infos map[string]*BranchInfo
}

// NewBranchInfoStore returns an empty store.
func NewBranchInfoStore() *BranchInfoStore {
	return &BranchInfoStore{infos: make(map[string]*BranchInfo)}
}

// Len returns the number of assumptions.
func (s *BranchInfoStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the divergence identifiers in insertion order.
func (s *BranchInfoStore) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

// Get returns the assumption recorded for key.
func (s *BranchInfoStore) Get(key string) *BranchInfo {
	if s == nil {
		return nil
	}
	return s.infos[key]
}

// Infos returns the assumptions in insertion order.
func (s *BranchInfoStore) Infos() []*BranchInfo {
	a := make([]*BranchInfo, 0, s.Len())
	for _, key := range s.Keys() {
		a = append(a, s.infos[key])
	}
	return a
}

// Add returns a store containing info. If the key is already present the
// store is returned unchanged; the first assumption wins.
func (s *BranchInfoStore) Add(info *BranchInfo) *BranchInfoStore {
	assert(info != nil && info.Condition != nil, "branch info: missing condition")
	assert(ExprWidth(info.Condition) == WidthBool, "branch info: condition must be boolean: %s", info.Condition)
	if s.Get(info.Key) != nil {
		return s
	}
	other := s.clone()
	other.keys = append(other.keys, info.Key)
	other.infos[info.Key] = info
	return other
}

// Remove returns a store without key.
func (s *BranchInfoStore) Remove(key string) *BranchInfoStore {
	if s.Get(key) == nil {
		return s
	}
	other := NewBranchInfoStore()
	for _, info := range s.Infos() {
		if info.Key != key {
			other.keys = append(other.keys, info.Key)
			other.infos[info.Key] = info
		}
	}
	return other
}

// Map returns a store with fn applied to every condition.
func (s *BranchInfoStore) Map(fn func(Expr) Expr) *BranchInfoStore {
	other := NewBranchInfoStore()
	for _, info := range s.Infos() {
		cp := *info
		cp.Condition = fn(info.Condition)
		other.keys = append(other.keys, cp.Key)
		other.infos[cp.Key] = &cp
	}
	return other
}

func (s *BranchInfoStore) clone() *BranchInfoStore {
	other := NewBranchInfoStore()
	for _, info := range s.Infos() {
		other.keys = append(other.keys, info.Key)
		other.infos[info.Key] = info
	}
	return other
}

// Conditions returns the path condition as a list of boolean constraints.
func (s *BranchInfoStore) Conditions() []Expr {
	a := make([]Expr, 0, s.Len())
	for _, info := range s.Infos() {
		a = append(a, info.Expr())
	}
	return a
}

// Condition returns the conjunction of all assumptions.
func (s *BranchInfoStore) Condition() Expr {
	return NewAndExpr(s.Conditions()...)
}

// String returns one assumption per line.
func (s *BranchInfoStore) String() string {
	var lines []string
	for _, info := range s.Infos() {
		lines = append(lines, info.String())
	}
	return strings.Join(lines, "\n")
}

// LiveKeys returns the keys present in both stores with opposite polarity,
// in the insertion order of a.
func LiveKeys(a, b *BranchInfoStore) []string {
	shared := mapset.NewThreadUnsafeSet[string](a.Keys()...).Intersect(mapset.NewThreadUnsafeSet[string](b.Keys()...))

	var live []string
	for _, key := range a.Keys() {
		if shared.Contains(key) && a.Get(key).Taken != b.Get(key).Taken {
			live = append(live, key)
		}
	}
	return live
}

// MergeBranchInfoStores returns the union of a and b without the live
// divergence that separates them, along with every live key found.
//
// With no live key the union is returned as is. With more than one the first
// is resolved and a warning is logged.
func MergeBranchInfoStores(a, b *BranchInfoStore, logger logrus.FieldLogger) (merged *BranchInfoStore, live []string) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	live = LiveKeys(a, b)
	var drop string
	switch len(live) {
	case 0:
		logger.Debug("branch merge: no live divergence")
	case 1:
		drop = live[0]
	default:
		drop = live[0]
		logger.WithField("keys", live).Warnf("branch merge: %d live divergences, resolving %s", len(live), drop)
	}

	merged = NewBranchInfoStore()
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, store := range []*BranchInfoStore{a, b} {
		for _, info := range store.Infos() {
			if (len(live) > 0 && info.Key == drop) || !seen.Add(info.Key) {
				continue
			}
			merged.keys = append(merged.keys, info.Key)
			merged.infos[info.Key] = info
		}
	}
	return merged, live
}
