package asmsym

import (
	"github.com/sirupsen/logrus"
)

// ChoiceName is the entity name of the fresh boolean that selects between
// two merged states when their path conditions do not distinguish them.
const ChoiceName = "CHOICE"

// MergeStates joins two states that describe the same program point on
// different paths. Both must share a tail key. Every entity that differs is
// merged into an if-then-else on a selector:
//
//   - with a live divergence, the condition a assumed there;
//   - otherwise a fresh boolean named after key.
//
// The merged path condition keeps the assumptions both paths made alike.
// Any other assumption survives in one disjunction: a's leftovers under the
// selector, or b's leftovers under its negation.
func MergeStates(a, b *State, key Key, logger logrus.FieldLogger) *State {
	assert(a.TailKey == b.TailKey, "merge: tail keys differ: %s != %s", a.TailKey, b.TailKey)
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("key", key)

	merged, live := MergeBranchInfoStores(a.Branches, b.Branches, logger)

	var sel Expr
	var resolved string
	if len(live) > 0 {
		resolved = live[0]
		sel = a.Branches.Get(resolved).Expr()
	} else {
		sel = NewSymbolExpr(FreshName(ChoiceName, key), WidthBool)
	}

	// Keep what both paths assumed alike.
	branches := NewBranchInfoStore()
	for _, info := range merged.Infos() {
		if agree(a.Branches, b.Branches, info.Key) {
			branches = branches.Add(info)
		}
	}

	onlyA, onlyB := leftovers(a.Branches, b.Branches, resolved), leftovers(b.Branches, a.Branches, resolved)
	if len(onlyA) > 0 || len(onlyB) > 0 {
		logger.WithFields(logrus.Fields{"a": len(onlyA), "b": len(onlyB)}).Debug("merge: keeping leftover assumptions as a disjunction")
		cond := NewOrExpr(
			NewAndExpr(append([]Expr{sel}, onlyA...)...),
			NewAndExpr(append([]Expr{NewNotExpr(sel)}, onlyB...)...),
		)
		branches = branches.Add(&BranchInfo{Key: "M" + string(key), Condition: cond, Taken: true, Line: -1})
	}

	other := a.clone()
	other.HeadKey = key
	other.Branches = branches
	other.Consistency = nil
	other.Warning = joinWarnings(a.Warning, b.Warning)

	for _, r := range a.Regs() {
		if va, vb := a.Reg(r), b.Reg(r); vb != nil && !sameExpr(va, vb) {
			other.regs = other.regs.Set(r, NewIteExpr(sel, va, vb))
		}
	}
	for _, f := range a.Flags() {
		if va, vb := a.Flag(f), b.Flag(f); vb != nil && !sameExpr(va, vb) {
			other.flags = other.flags.Set(f, NewIteExpr(sel, va, vb))
		}
	}
	if a.Mem != nil && b.Mem != nil {
		other.Mem = mergeArrays(a.Mem, b.Mem, sel, key, logger)
	}
	return other
}

// mergeArrays returns an array that reads as a where sel holds and as b
// elsewhere. Updates are merged on top of the longest shared update chain.
func mergeArrays(a, b *Array, sel Expr, key Key, logger logrus.FieldLogger) *Array {
	if a == b || (a.Name == b.Name && a.Updates == b.Updates) {
		return a
	}

	var base *Array
	if a.Name == b.Name {
		inB := make(map[*ArrayUpdate]struct{})
		for upd := b.Updates; upd != nil; upd = upd.Next {
			inB[upd] = struct{}{}
		}
		base = &Array{Name: a.Name}
		for upd := a.Updates; upd != nil; upd = upd.Next {
			if _, ok := inB[upd]; ok {
				base.Updates = upd
				break
			}
		}
	} else {
		logger.Warnf("merge: memory roots differ (%s, %s), untouched bytes become unknown", a.Name, b.Name)
		base = NewArray(FreshName(MemName, key))
	}

	// Collect every index written above the shared chain, oldest first.
	var indices []Expr
	for _, arr := range []*Array{a, b} {
		for _, upd := range arr.UpdateList() {
			if isBelow(upd, base.Updates) || containsExpr(indices, upd.Index) {
				continue
			}
			indices = append(indices, upd.Index)
		}
	}

	other := base.Clone()
	for _, index := range indices {
		other.storeByte(index, NewIteExpr(sel, a.selectByte(index), b.selectByte(index)))
	}
	return other
}

// isBelow returns true if upd is part of the chain starting at head.
func isBelow(upd, head *ArrayUpdate) bool {
	for u := head; u != nil; u = u.Next {
		if u == upd {
			return true
		}
	}
	return false
}

func containsExpr(a []Expr, expr Expr) bool {
	for _, e := range a {
		if CompareExpr(e, expr) == 0 {
			return true
		}
	}
	return false
}

// agree returns true if a and b both assumed the same side of key.
func agree(a, b *BranchInfoStore, key string) bool {
	ia, ib := a.Get(key), b.Get(key)
	return ia != nil && ib != nil && ia.Taken == ib.Taken
}

// leftovers returns the assumptions of a that b does not share, other than
// the resolved divergence.
func leftovers(a, b *BranchInfoStore, resolved string) []Expr {
	var exprs []Expr
	for _, info := range a.Infos() {
		if info.Key != resolved && !agree(a, b, info.Key) {
			exprs = append(exprs, info.Expr())
		}
	}
	return exprs
}

func joinWarnings(a, b string) string {
	switch {
	case a == "" || a == b:
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
