package domain

import "github.com/shopspring/decimal"

// Holder represents a single account holding a token.
type Holder struct {
	// Account account identifier.
	Account string
	// Balance holding in display units.
	Balance decimal.Decimal
}

// HolderSnapshot is the holder set of a token at a point in time,
// keyed by account. An account appears at most once; iteration order
// is insertion order.
type HolderSnapshot struct {
	holders []Holder
	index   map[string]int
}

// NewHolderSnapshot creates an empty snapshot.
func NewHolderSnapshot() *HolderSnapshot {
	return &HolderSnapshot{index: make(map[string]int)}
}

// Add inserts a holder, replacing any existing entry for the same account.
func (s *HolderSnapshot) Add(h Holder) {
	if i, ok := s.index[h.Account]; ok {
		s.holders[i] = h
		return
	}
	s.index[h.Account] = len(s.holders)
	s.holders = append(s.holders, h)
}

// Balance returns balance of an account and whether it is present.
func (s *HolderSnapshot) Balance(account string) (decimal.Decimal, bool) {
	i, ok := s.index[account]
	if !ok {
		return decimal.Decimal{}, false
	}
	return s.holders[i].Balance, true
}

// Holders returns all holders in insertion order.
func (s *HolderSnapshot) Holders() []Holder {
	return s.holders
}

// Len returns the number of holders.
func (s *HolderSnapshot) Len() int {
	return len(s.holders)
}

// HolderDiff partitions a current snapshot against a previous one.
// Only New and Changed accounts require transaction re-collection.
type HolderDiff struct {
	New       []Holder
	Changed   []Holder
	Unchanged []Holder
	Removed   []Holder
}

// NeedCollection returns holders whose transaction history must be re-fetched.
func (d HolderDiff) NeedCollection() []Holder {
	out := make([]Holder, 0, len(d.New)+len(d.Changed))
	out = append(out, d.New...)
	out = append(out, d.Changed...)
	return out
}

// Diff classifies each holder of current against previous:
// present only in current -> New, in both with different balance -> Changed,
// in both with equal balance -> Unchanged, only in previous -> Removed.
// A nil previous snapshot (first run) makes every current holder New.
func Diff(previous, current *HolderSnapshot) HolderDiff {
	var diff HolderDiff

	if previous == nil {
		diff.New = append(diff.New, current.Holders()...)
		return diff
	}

	for _, h := range current.Holders() {
		prevBalance, ok := previous.Balance(h.Account)
		switch {
		case !ok:
			diff.New = append(diff.New, h)
		case !prevBalance.Equal(h.Balance):
			diff.Changed = append(diff.Changed, h)
		default:
			diff.Unchanged = append(diff.Unchanged, h)
		}
	}

	for _, h := range previous.Holders() {
		if _, ok := current.Balance(h.Account); !ok {
			diff.Removed = append(diff.Removed, h)
		}
	}

	return diff
}
