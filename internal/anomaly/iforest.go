package anomaly

import (
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649

// IsolationForest is an unsupervised outlier detector over small numeric
// feature vectors. The zero value is not usable; see NewIsolationForest.
type IsolationForest struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

func NewIsolationForest(contamination float64, seed int64) IsolationForest {
	return IsolationForest{
		Trees:         100,
		SampleSize:    256,
		Contamination: contamination,
		Seed:          seed,
	}
}

type iNode struct {
	feature int
	split   float64
	left    *iNode
	right   *iNode
	size    int
}

func (n *iNode) leaf() bool {
	return n.left == nil
}

// FitPredict fits on points and labels each one -1 (outlier) or 1.
// Results are deterministic for a given seed and input order.
func (f IsolationForest) FitPredict(points [][]float64) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = 1
	}
	if len(points) < 2 {
		return labels
	}

	scores := f.Scores(points)
	threshold := percentile(scores, 100*(1-f.Contamination))
	for i, s := range scores {
		if s > threshold {
			labels[i] = -1
		}
	}
	return labels
}

// Scores returns the anomaly score in (0, 1] of every point; higher is more isolated.
func (f IsolationForest) Scores(points [][]float64) []float64 {
	n := len(points)
	scores := make([]float64, n)
	if n == 0 {
		return scores
	}

	trees := f.Trees
	if trees <= 0 {
		trees = 100
	}
	psi := f.SampleSize
	if psi <= 0 || psi > n {
		psi = n
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	rng := rand.New(rand.NewSource(f.Seed))
	forest := make([]*iNode, trees)
	for t := range forest {
		sample := rng.Perm(n)[:psi]
		forest[t] = buildTree(rng, points, sample, 0, heightLimit)
	}

	norm := averagePathLength(psi)
	for i, p := range points {
		var total float64
		for _, tree := range forest {
			total += pathLength(tree, p, 0)
		}
		mean := total / float64(trees)
		if norm == 0 {
			scores[i] = 0.5
			continue
		}
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

func buildTree(rng *rand.Rand, points [][]float64, idx []int, depth, limit int) *iNode {
	if depth >= limit || len(idx) <= 1 {
		return &iNode{size: len(idx)}
	}

	dims := len(points[idx[0]])
	mins := make([]float64, dims)
	maxs := make([]float64, dims)
	for d := 0; d < dims; d++ {
		mins[d], maxs[d] = math.Inf(1), math.Inf(-1)
	}
	for _, i := range idx {
		for d, v := range points[i] {
			mins[d] = math.Min(mins[d], v)
			maxs[d] = math.Max(maxs[d], v)
		}
	}

	var candidates []int
	for d := 0; d < dims; d++ {
		if maxs[d] > mins[d] {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &iNode{size: len(idx)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	lo, hi := mins[feature], maxs[feature]
	split := lo + rng.Float64()*(hi-lo)
	if split <= lo {
		split = (lo + hi) / 2
	}

	var left, right []int
	for _, i := range idx {
		if points[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &iNode{
		feature: feature,
		split:   split,
		left:    buildTree(rng, points, left, depth+1, limit),
		right:   buildTree(rng, points, right, depth+1, limit),
		size:    len(idx),
	}
}

func pathLength(node *iNode, p []float64, depth int) float64 {
	for !node.leaf() {
		if p[node.feature] < node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*harmonic(n-1) - 2*(fn-1)/fn
}

func harmonic(i int) float64 {
	return math.Log(float64(i)) + eulerGamma
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
