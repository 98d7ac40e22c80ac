package tree

import (
	"math"
	"slices"
)

// Criterion names accepted by WithCriterion.
const (
	CriterionSquaredError = "squared_error"
	CriterionFriedmanMSE  = "friedman_mse"
)

type split struct {
	feature   int
	threshold float64
	pos       int // samples[:pos] go left after sorting by feature
	proxy     float64
	impLeft   float64
	impRight  float64
}

// builder grows a tree depth-first over a column-major copy of X whose
// values are rounded to float32, so split decisions match the exported
// float32 model.
type builder struct {
	cols            [][]float64
	y               []float64
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	minImpurityDecr float64
	totalSamples    float64
	tree            *Tree
	importances     []float64
}

func meanAndMSE(y []float64, samples []int) (mean, mse float64) {
	for _, s := range samples {
		mean += y[s]
	}
	n := float64(len(samples))
	mean /= n
	for _, s := range samples {
		d := y[s] - mean
		mse += d * d
	}
	return mean, mse / n
}

func (b *builder) build(samples []int, depth int) int {
	mean, impurity := meanAndMSE(b.y, samples)
	node := b.tree.addNode(mean, impurity, len(samples))

	n := len(samples)
	if (b.maxDepth > 0 && depth >= b.maxDepth) ||
		n < b.minSamplesSplit ||
		n < 2*b.minSamplesLeaf ||
		impurity <= 1e-15 {
		return node
	}

	best, ok := b.bestSplit(samples)
	if !ok {
		return node
	}

	nl, nr := float64(best.pos), float64(n-best.pos)
	nt := float64(n)
	decrease := nt / b.totalSamples * (impurity - nl/nt*best.impLeft - nr/nt*best.impRight)
	if decrease < b.minImpurityDecr {
		return node
	}

	col := b.cols[best.feature]
	left := make([]int, 0, best.pos)
	right := make([]int, 0, n-best.pos)
	for _, s := range samples {
		if col[s] <= best.threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return node
	}

	b.tree.Feature[node] = best.feature
	b.tree.Threshold[node] = best.threshold
	b.importances[best.feature] += nt*impurity - nl*best.impLeft - nr*best.impRight

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.ChildrenLeft[node] = l
	b.tree.ChildrenRight[node] = r
	return node
}

func (b *builder) bestSplit(samples []int) (split, bool) {
	n := len(samples)
	best := split{proxy: math.Inf(-1)}
	found := false

	var totalSum, totalSq float64
	for _, s := range samples {
		totalSum += b.y[s]
		totalSq += b.y[s] * b.y[s]
	}

	order := make([]int, n)
	for f, col := range b.cols {
		copy(order, samples)
		slices.SortStableFunc(order, func(a, c int) int {
			switch {
			case col[a] < col[c]:
				return -1
			case col[a] > col[c]:
				return 1
			}
			return 0
		})
		if col[order[0]] == col[order[n-1]] {
			continue
		}

		var sumL, sqL float64
		for i := 1; i < n; i++ {
			prev := order[i-1]
			sumL += b.y[prev]
			sqL += b.y[prev] * b.y[prev]

			if i < b.minSamplesLeaf || n-i < b.minSamplesLeaf {
				continue
			}
			lo, hi := col[prev], col[order[i]]
			if lo == hi {
				continue
			}

			nl, nr := float64(i), float64(n-i)
			sumR := totalSum - sumL
			var proxy float64
			if b.criterion == CriterionFriedmanMSE {
				diff := nl*sumR - nr*sumL
				proxy = diff * diff / (nl * nr)
			} else {
				proxy = sumL*sumL/nl + sumR*sumR/nr
			}
			if proxy <= best.proxy {
				continue
			}

			// Thresholds are stored float32-exact so that x <= t means the
			// same thing here and in the exported model.
			threshold := float64(float32(lo/2 + hi/2))
			if threshold >= hi || threshold < lo {
				threshold = lo
			}
			meanL, meanR := sumL/nl, sumR/nr
			best = split{
				feature:   f,
				threshold: threshold,
				pos:       i,
				proxy:     proxy,
				impLeft:   math.Max(sqL/nl-meanL*meanL, 0),
				impRight:  math.Max((totalSq-sqL)/nr-meanR*meanR, 0),
			}
			found = true
		}
	}
	return best, found
}
