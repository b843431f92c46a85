package pairing

// pairTable maps each paired connection to its partner. Entries are always
// written and removed two at a time so the mapping stays symmetric.
type pairTable map[ConnID]ConnID

func (p pairTable) link(a, b ConnID) {
	p[a] = b
	p[b] = a
}

// unlink removes a and its partner, returning the partner.
func (p pairTable) unlink(a ConnID) (ConnID, bool) {
	b, ok := p[a]
	if !ok {
		return "", false
	}
	delete(p, a)
	delete(p, b)
	return b, true
}

func (p pairTable) partner(a ConnID) (ConnID, bool) {
	b, ok := p[a]
	return b, ok
}

func (p pairTable) pairs() int { return len(p) / 2 }
