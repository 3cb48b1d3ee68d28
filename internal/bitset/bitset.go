// Package bitset implements a bit array for dense non-negative IDs.
package bitset

const wordBits = 32 << (^uint(0) >> 63) // 32 or 64

// Set is a fixed-capacity bit array indexed by small integers such as
// block IDs. The zero-length Set holds nothing; use New to size one.
type Set []uint

// New constructs a Set able to hold IDs in [0, n).
func New(n int) Set {
	return make(Set, (n+wordBits-1)/wordBits)
}

// Add inserts id.
func (s Set) Add(id int) {
	s[id/wordBits] |= 1 << (uint(id) % wordBits)
}

// Remove deletes id.
func (s Set) Remove(id int) {
	s[id/wordBits] &^= 1 << (uint(id) % wordBits)
}

// Has reports whether id is present.
func (s Set) Has(id int) bool {
	return s[id/wordBits]&(1<<(uint(id)%wordBits)) != 0
}

// Clear removes every id.
func (s Set) Clear() {
	for i := range s {
		s[i] = 0
	}
}
