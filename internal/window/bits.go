package window

import "math/bits"

// lowestSet returns the index of the least significant set bit of x,
// or WordBits when x is zero.
func lowestSet(x uint64) int {
	return bits.TrailingZeros64(x)
}

// highestSet returns the index of the most significant set bit of x,
// or -1 when x is zero.
func highestSet(x uint64) int {
	return WordBits - 1 - bits.LeadingZeros64(x)
}

// SeqAfter reports whether a comes after b, tolerating 64-bit wraparound.
func SeqAfter(a, b uint64) bool {
	return int64(b-a) < 0
}

// SeqBeforeEq reports whether a is at or before b, tolerating 64-bit wraparound.
func SeqBeforeEq(a, b uint64) bool {
	return int64(b-a) >= 0
}
