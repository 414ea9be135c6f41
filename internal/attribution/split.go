package attribution

import (
	"math"
	"sort"
)

// RandGen is a small deterministic generator so a seed always yields the same split
type RandGen struct {
	state uint64
}

// NewRandGen creates a generator from a seed
func NewRandGen(seed uint64) *RandGen {
	return &RandGen{state: seed}
}

// Float64 returns a pseudo-random float64 in [0.0, 1.0)
func (r *RandGen) Float64() float64 {
	// Linear congruential step
	r.state = r.state*1103515245 + 12345
	return float64(r.state&0x7FFFFFFF) / float64(0x80000000)
}

// Intn returns a pseudo-random int in [0, n)
func (r *RandGen) Intn(n int) int {
	i := int(r.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Partition lists the row indices used for training and testing, each ascending
type Partition struct {
	Train []int `json:"train"`
	Test  []int `json:"test"`
}

// Split shuffles row indices with a seeded Fisher-Yates pass and assigns the
// first round(ratio·n) of them to training. With n ≥ 2 both sides keep at
// least one row.
func Split(n int, ratio float64, seed uint64) Partition {
	if n <= 0 {
		return Partition{}
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := NewRandGen(seed)
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}

	trainN := int(math.Round(ratio * float64(n)))
	if n >= 2 {
		if trainN < 1 {
			trainN = 1
		}
		if trainN > n-1 {
			trainN = n - 1
		}
	} else {
		trainN = n
	}

	p := Partition{
		Train: append([]int(nil), idx[:trainN]...),
		Test:  append([]int(nil), idx[trainN:]...),
	}
	sort.Ints(p.Train)
	sort.Ints(p.Test)
	return p
}
