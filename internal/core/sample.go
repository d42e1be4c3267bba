package core

import (
	"fmt"
	"math/rand/v2"
)

const (
	// SampleOfferThreshold is the row count above which sampling is offered.
	SampleOfferThreshold = 1000

	MinSampleSize     = 100
	MaxSampleSize     = 10000
	DefaultSampleSize = 1000
)

// SampleOffered reports whether a table with rows rows may be sampled.
func SampleOffered(rows int) bool {
	return rows > SampleOfferThreshold
}

// SampleBounds returns the slider bounds for a table with rows rows.
func SampleBounds(rows int) (lo, hi, def int) {
	lo = MinSampleSize
	hi = min(MaxSampleSize, rows)
	def = min(DefaultSampleSize, hi)
	return lo, hi, def
}

// NewSampleRand returns the generator used for sampling. A nil seed draws
// a fresh random seed, so repeated conversions pick different rows.
func NewSampleRand(seed *uint64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
}

// Sample draws k distinct rows of t without replacement. Rows keep their
// source labels and come out in random order.
func Sample(t *Table, k int, rng *rand.Rand) (*Table, error) {
	lo, hi, _ := SampleBounds(t.NumRows())
	if k < lo || k > hi {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrSampleSize, k, lo, hi)
	}

	n := t.NumRows()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	// Partial Fisher-Yates: only the first k positions are shuffled.
	rows := make([]Row, k)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
		rows[i] = t.Rows[idx[i]]
	}

	return &Table{Columns: t.Columns, Kinds: t.Kinds, Rows: rows}, nil
}
