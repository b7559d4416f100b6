// Package forest implements a self-contained randomized partition-tree
// anomaly scorer (isolation-forest style). Points that random axis-aligned
// splits isolate quickly receive short average path lengths and therefore
// high anomaly scores. The package has no learning-library dependency: any
// equivalent unsupervised outlier scorer could replace it behind the same
// normalization and rebuild contract.
package forest

import (
	"math"
	"math/rand"
)

type node struct {
	left, right *node
	feature     int
	split       float64
	size        int // leaf only: number of samples that reached this leaf
}

func (n *node) leaf() bool { return n.left == nil && n.right == nil }

// Tree is one randomized binary partition tree.
type Tree struct {
	root *node
}

// Forest is an immutable set of partition trees built from one sample
// buffer. Scoring is read-only; a rebuilt forest replaces the active one by
// an atomic pointer swap in the caller, so scoring never blocks on rebuild.
type Forest struct {
	trees      []*Tree
	sampleSize int
}

// Config bounds forest construction.
type Config struct {
	Trees      int // number of trees (default 25)
	SampleSize int // samples drawn per tree (default 64)
}

func (c Config) withDefaults() Config {
	if c.Trees <= 0 {
		c.Trees = 25
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 64
	}
	return c
}

// Build constructs a forest from the sample rows. All rows must share the
// same length. Returns nil when there are fewer than two samples, since a
// single point cannot be partitioned.
func Build(samples [][]float64, cfg Config, rng *rand.Rand) *Forest {
	if len(samples) < 2 {
		return nil
	}
	cfg = cfg.withDefaults()
	sampleSize := cfg.SampleSize
	if sampleSize > len(samples) {
		sampleSize = len(samples)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize)))) + 1

	f := &Forest{trees: make([]*Tree, 0, cfg.Trees), sampleSize: sampleSize}
	for i := 0; i < cfg.Trees; i++ {
		sub := make([][]float64, sampleSize)
		for j := range sub {
			sub[j] = samples[rng.Intn(len(samples))]
		}
		f.trees = append(f.trees, &Tree{root: grow(sub, 0, heightLimit, rng)})
	}
	return f
}

func grow(samples [][]float64, depth, heightLimit int, rng *rand.Rand) *node {
	if len(samples) <= 1 || depth >= heightLimit {
		return &node{size: len(samples)}
	}
	dims := len(samples[0])
	feature := rng.Intn(dims)

	lo, hi := samples[0][feature], samples[0][feature]
	for _, row := range samples[1:] {
		v := row[feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		// Constant along this axis: cannot split further.
		return &node{size: len(samples)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range samples {
		if row[feature] <= split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &node{size: len(samples)}
	}
	return &node{
		feature: feature,
		split:   split,
		left:    grow(left, depth+1, heightLimit, rng),
		right:   grow(right, depth+1, heightLimit, rng),
	}
}

// Score returns the anomaly score for row in (0,1): 2^(-avgPath/c(n)).
// Scores near 1 mean the point is isolated quickly by random splits;
// scores near 0.5 and below mean it blends into the training mass.
func (f *Forest) Score(row []float64) float64 {
	if f == nil || len(f.trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(row, t.root, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/cFactor(f.sampleSize))
}

// Size returns the number of trees in the forest.
func (f *Forest) Size() int {
	if f == nil {
		return 0
	}
	return len(f.trees)
}

func pathLength(row []float64, n *node, depth float64) float64 {
	if n.leaf() {
		return depth + cFactor(n.size)
	}
	if row[n.feature] <= n.split {
		return pathLength(row, n.left, depth+1)
	}
	return pathLength(row, n.right, depth+1)
}

// cFactor is the average unsuccessful-search path length of a binary search
// tree with n nodes: 2H(n-1) - 2(n-1)/n.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2*harmonic(n-1) - 2*float64(n-1)/float64(n)
}

func harmonic(n int) float64 {
	var h float64
	for i := 1; i <= n; i++ {
		h += 1 / float64(i)
	}
	return h
}
