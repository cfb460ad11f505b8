package model

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"
)

// forestNode is one node of an isolation tree. Exported fields keep the
// trained forest JSON-serializable for the model artifact.
type forestNode struct {
	SplitFeature int         `json:"f,omitempty"`
	SplitValue   float64     `json:"v,omitempty"`
	Left         *forestNode `json:"l,omitempty"`
	Right        *forestNode `json:"r,omitempty"`
	Size         int         `json:"n"`
	Leaf         bool        `json:"leaf,omitempty"`
}

// ForestParams configure a fit. Zero values pick the usual defaults
// (100 trees, 256-point subsamples, depth ceil(log2(subsample))).
type ForestParams struct {
	Trees     int
	SubSample int
	MaxDepth  int
	Seed      int64
}

func (p ForestParams) withDefaults() ForestParams {
	if p.Trees == 0 {
		p.Trees = 100
	}
	if p.SubSample == 0 {
		p.SubSample = 256
	}
	if p.MaxDepth == 0 {
		p.MaxDepth = int(math.Ceil(math.Log2(float64(p.SubSample))))
	}
	if p.Seed == 0 {
		p.Seed = time.Now().UnixNano()
	}
	return p
}

// Forest is a fitted isolation forest over fixed-length feature vectors.
// The raw anomaly score is the classic 2^(-E[path]/c(n)) in (0, 1),
// higher = more anomalous. Cutoff is the raw score at the configured
// contamination quantile of the training data; points scoring above it
// would have been labeled outliers during the fit.
type Forest struct {
	Trees     []*forestNode `json:"trees"`
	SubSample int           `json:"sub_sample"`
	Cutoff    float64       `json:"cutoff"`
}

// ErrNoFeatures reports a fit attempted over zero-length vectors.
var ErrNoFeatures = errors.New("training data has no features")

// FitForest trains an isolation forest on the batch and calibrates the
// anomaly cutoff so that roughly a contamination fraction of the training
// points score above it.
func FitForest(data [][]float64, contamination float64, params ForestParams) (*Forest, error) {
	if len(data) == 0 {
		return nil, errors.New("empty training batch")
	}
	if len(data[0]) == 0 {
		return nil, ErrNoFeatures
	}

	params = params.withDefaults()
	rng := rand.New(rand.NewSource(params.Seed))

	f := &Forest{
		Trees:     make([]*forestNode, 0, params.Trees),
		SubSample: min(params.SubSample, len(data)),
	}
	for i := 0; i < params.Trees; i++ {
		sample := subsample(data, f.SubSample, rng)
		f.Trees = append(f.Trees, buildNode(sample, 0, params.MaxDepth, rng))
	}

	// Calibrate: the (1 - contamination) quantile of training scores
	// becomes the outlier cutoff, mirroring the offset a contamination-
	// aware fit would choose.
	scores := make([]float64, len(data))
	for i, vec := range data {
		scores[i] = f.AnomalyScore(vec)
	}
	sort.Float64s(scores)
	idx := int(math.Ceil(float64(len(scores))*(1-contamination))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	f.Cutoff = scores[idx]

	return f, nil
}

// AnomalyScore returns the raw isolation score for one vector: average
// path length across trees, normalized by c(n) and mapped through
// 2^(-ratio). Bounded in (0, 1); higher = more anomalous.
func (f *Forest) AnomalyScore(vec []float64) float64 {
	if len(f.Trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, tree := range f.Trees {
		total += pathLength(tree, vec, 0)
	}
	avg := total / float64(len(f.Trees))
	return math.Pow(2, -avg/avgPathLength(f.SubSample))
}

// Outlier reports whether the vector scores beyond the calibrated cutoff.
func (f *Forest) Outlier(vec []float64) bool {
	return f.AnomalyScore(vec) > f.Cutoff
}

func subsample(data [][]float64, size int, rng *rand.Rand) [][]float64 {
	shuffled := make([][]float64, len(data))
	copy(shuffled, data)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:size]
}

func buildNode(data [][]float64, depth, maxDepth int, rng *rand.Rand) *forestNode {
	if len(data) <= 1 || depth >= maxDepth || allIdentical(data) {
		return &forestNode{Size: len(data), Leaf: true}
	}

	splitFeature := rng.Intn(len(data[0]))
	minVal, maxVal := featureRange(data, splitFeature)
	if minVal == maxVal {
		return &forestNode{Size: len(data), Leaf: true}
	}
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, vec := range data {
		if vec[splitFeature] < splitValue {
			left = append(left, vec)
		} else {
			right = append(right, vec)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &forestNode{Size: len(data), Leaf: true}
	}

	return &forestNode{
		SplitFeature: splitFeature,
		SplitValue:   splitValue,
		Left:         buildNode(left, depth+1, maxDepth, rng),
		Right:        buildNode(right, depth+1, maxDepth, rng),
		Size:         len(data),
	}
}

func pathLength(node *forestNode, vec []float64, depth int) float64 {
	if node.Leaf {
		return float64(depth) + avgPathLength(node.Size)
	}
	if vec[node.SplitFeature] < node.SplitValue {
		return pathLength(node.Left, vec, depth+1)
	}
	return pathLength(node.Right, vec, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful
// search in a BST of n nodes: 2H(n-1) - 2(n-1)/n.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // harmonic number approximation
	return 2*h - 2*float64(n-1)/float64(n)
}

func allIdentical(data [][]float64) bool {
	if len(data) <= 1 {
		return true
	}
	first := data[0]
	for i := 1; i < len(data); i++ {
		for j := range first {
			if math.Abs(data[i][j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, vec := range data {
		v := vec[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}
