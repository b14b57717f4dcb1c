package p11

// FindToken returns the slot whose token looks the most usable, or nil
// when no slot holds a token. A candidate replaces the current best
// only when it dominates it on the (initialized, user PIN set, login
// required) tuple: no flag worse, at least one flag better.
func FindToken(slots []*Slot) *Slot {
	var best *Slot
	for _, slot := range slots {
		tok := slot.Token()
		if tok == nil {
			continue
		}
		if best == nil || dominates(tok, best.Token()) {
			best = slot
		}
	}
	return best
}

// FindNextToken resumes the scan strictly after current. A nil current
// is equivalent to FindToken.
func FindNextToken(slots []*Slot, current *Slot) *Slot {
	if current == nil {
		return FindToken(slots)
	}
	for i, slot := range slots {
		if slot == current {
			if i+1 >= len(slots) {
				return nil
			}
			return FindToken(slots[i+1:])
		}
	}
	return nil
}

func dominates(a, b *Token) bool {
	geq := func(x, y bool) bool { return x || !y }
	gt := func(x, y bool) bool { return x && !y }
	if !geq(a.Initialized, b.Initialized) ||
		!geq(a.UserPINSet, b.UserPINSet) ||
		!geq(a.LoginRequired, b.LoginRequired) {
		return false
	}
	return gt(a.Initialized, b.Initialized) ||
		gt(a.UserPINSet, b.UserPINSet) ||
		gt(a.LoginRequired, b.LoginRequired)
}
