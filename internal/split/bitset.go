package split

import "math/bits"

// bitset is a fixed-size set of small non-negative integers.
type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) set(i int) {
	b[i/64] |= 1 << (uint(i) % 64)
}

func (b bitset) clear(i int) {
	b[i/64] &^= 1 << (uint(i) % 64)
}

func (b bitset) has(i int) bool {
	return b[i/64]&(1<<(uint(i)%64)) != 0
}

func (b bitset) clone() bitset {
	return append(bitset(nil), b...)
}

// and intersects o into b and returns b.
func (b bitset) and(o bitset) bitset {
	for i := range b {
		b[i] &= o[i]
	}
	return b
}

// or unions o into b and returns b.
func (b bitset) or(o bitset) bitset {
	for i := range b {
		b[i] |= o[i]
	}
	return b
}

func (b bitset) equal(o bitset) bool {
	for i := range b {
		if b[i] != o[i] {
			return false
		}
	}
	return true
}

func (b bitset) count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}
