package gate

import "math/bits"

// Bitset is a fixed-length per-entity membership mask. Bit i corresponds
// to the entity with id i+1.
type Bitset struct {
	words []uint64
	n     int
}

// NewBitset creates an all-zero mask over n entities.
func NewBitset(n int) *Bitset {
	return &Bitset{words: make([]uint64, (n+63)/64), n: n}
}

// Len returns the number of bits.
func (b *Bitset) Len() int { return b.n }

// Set sets bit i.
func (b *Bitset) Set(i int) {
	b.words[i/64] |= 1 << (uint(i) % 64)
}

// Get reports bit i.
func (b *Bitset) Get(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Clone returns an independent copy.
func (b *Bitset) Clone() *Bitset {
	c := &Bitset{words: make([]uint64, len(b.words)), n: b.n}
	copy(c.words, b.words)
	return c
}

// And intersects o into b and returns b.
func (b *Bitset) And(o *Bitset) *Bitset {
	for i := range b.words {
		b.words[i] &= o.words[i]
	}
	return b
}

// Or unions o into b and returns b.
func (b *Bitset) Or(o *Bitset) *Bitset {
	for i := range b.words {
		b.words[i] |= o.words[i]
	}
	return b
}

// Not complements b in place and returns b. Bits past Len stay zero so
// Count never inflates.
func (b *Bitset) Not() *Bitset {
	for i := range b.words {
		b.words[i] = ^b.words[i]
	}
	if tail := uint(b.n % 64); tail != 0 && len(b.words) > 0 {
		b.words[len(b.words)-1] &= (1 << tail) - 1
	}
	return b
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	total := 0
	for _, w := range b.words {
		total += bits.OnesCount64(w)
	}
	return total
}

// Equal reports whether two masks have identical length and bits.
func (b *Bitset) Equal(o *Bitset) bool {
	if o == nil || b.n != o.n {
		return false
	}
	for i := range b.words {
		if b.words[i] != o.words[i] {
			return false
		}
	}
	return true
}
