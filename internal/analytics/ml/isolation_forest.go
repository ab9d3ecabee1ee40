package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/montanaflynn/stats"
)

// Labels returned by Predict.
const (
	LabelNormal  = 1
	LabelAnomaly = -1
)

// Defaults used when Options leaves a field zero.
const (
	DefaultNumTrees      = 100
	DefaultSubSampleSize = 256
	DefaultContamination = 0.05
)

// IsolationTree is one node of an isolation tree. Fields are exported so a
// fitted forest can be persisted as JSON.
type IsolationTree struct {
	Feature   int            `json:"f,omitempty"`
	Threshold float64        `json:"t,omitempty"`
	Left      *IsolationTree `json:"l,omitempty"`
	Right     *IsolationTree `json:"r,omitempty"`
	Size      int            `json:"n"`
	Leaf      bool           `json:"leaf,omitempty"`
}

// IsolationForest is a tree ensemble outlier model. Points that are isolated
// after few random splits are anomalous.
//
// Scores follow the usual convention: ScoreSamples returns the opposite of the
// anomaly score 2^(-E[h(x)]/c(psi)), so lower is more abnormal, and
// DecisionFunction shifts it by the contamination-derived Offset so that
// negative values are outliers.
type IsolationForest struct {
	Trees         []*IsolationTree `json:"trees"`
	NumTrees      int              `json:"num_trees"`
	SubSampleSize int              `json:"sub_sample_size"`
	MaxDepth      int              `json:"max_depth"`
	Contamination float64          `json:"contamination"`
	Offset        float64          `json:"offset"`
	NumFeatures   int              `json:"num_features"`

	rng *rand.Rand
}

// Options configures a new forest.
type Options struct {
	NumTrees      int
	SubSampleSize int
	Contamination float64
	// Seed makes fitting deterministic. Zero seeds from the clock.
	Seed int64
}

// NewIsolationForest creates an unfitted forest.
func NewIsolationForest(opts Options) *IsolationForest {
	if opts.NumTrees <= 0 {
		opts.NumTrees = DefaultNumTrees
	}
	if opts.SubSampleSize <= 0 {
		opts.SubSampleSize = DefaultSubSampleSize
	}
	if opts.Contamination < 0 || opts.Contamination > 0.5 {
		opts.Contamination = DefaultContamination
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &IsolationForest{
		NumTrees:      opts.NumTrees,
		SubSampleSize: opts.SubSampleSize,
		Contamination: opts.Contamination,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// Fit builds the trees on data and calibrates Offset so that roughly a
// Contamination share of the training points is labelled anomalous.
func (f *IsolationForest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return errors.New("fit: empty training set")
	}
	f.NumFeatures = len(data[0])
	if f.NumFeatures == 0 {
		return errors.New("fit: points have no features")
	}
	for i, p := range data {
		if len(p) != f.NumFeatures {
			return fmt.Errorf("fit: point %d has %d features, want %d", i, len(p), f.NumFeatures)
		}
	}
	if f.rng == nil {
		f.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	sampleSize := f.SubSampleSize
	if sampleSize > len(data) {
		sampleSize = len(data)
	}
	f.SubSampleSize = sampleSize
	f.MaxDepth = int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f.Trees = make([]*IsolationTree, 0, f.NumTrees)
	for i := 0; i < f.NumTrees; i++ {
		sample := f.sampleData(data, sampleSize)
		f.Trees = append(f.Trees, f.buildTree(sample, 0))
	}

	scores := f.ScoreSamples(data)
	f.Offset = offsetFor(scores, f.Contamination)
	return nil
}

// offsetFor returns the contamination percentile of the training scores.
// With zero contamination nothing in the training set falls below it.
func offsetFor(scores []float64, contamination float64) float64 {
	lowest, _ := stats.Min(scores)
	if contamination <= 0 {
		return lowest - 1e-9
	}
	p, err := stats.Percentile(scores, contamination*100)
	if err != nil {
		return lowest
	}
	return p
}

// Fitted reports whether the forest has trees.
func (f *IsolationForest) Fitted() bool {
	return len(f.Trees) > 0
}

// ScoreSamples returns -2^(-E[h(x)]/c(psi)) for each point; lower is more abnormal.
func (f *IsolationForest) ScoreSamples(points [][]float64) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = f.scoreSample(p)
	}
	return out
}

func (f *IsolationForest) scoreSample(point []float64) float64 {
	if len(f.Trees) == 0 {
		return -0.5
	}
	total := 0.0
	for _, tree := range f.Trees {
		total += f.pathLength(tree, point, 0)
	}
	avg := total / float64(len(f.Trees))

	c := averagePathLength(f.SubSampleSize)
	if c == 0 {
		return -0.5
	}
	return -math.Pow(2, -avg/c)
}

// DecisionFunction returns ScoreSamples shifted by Offset. Negative values
// are outliers.
func (f *IsolationForest) DecisionFunction(point []float64) float64 {
	return f.scoreSample(point) - f.Offset
}

// Predict returns LabelAnomaly or LabelNormal together with the raw
// decision value the label was derived from.
func (f *IsolationForest) Predict(point []float64) (label int, raw float64) {
	raw = f.DecisionFunction(point)
	if raw < 0 {
		return LabelAnomaly, raw
	}
	return LabelNormal, raw
}

// sampleData draws size points without replacement (partial Fisher-Yates).
func (f *IsolationForest) sampleData(data [][]float64, size int) [][]float64 {
	shuffled := make([][]float64, len(data))
	copy(shuffled, data)
	for i := 0; i < size; i++ {
		j := i + f.rng.Intn(len(shuffled)-i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:size]
}

// buildTree recursively builds an isolation tree
func (f *IsolationForest) buildTree(data [][]float64, depth int) *IsolationTree {
	if len(data) <= 1 || depth >= f.MaxDepth || allIdentical(data) {
		return &IsolationTree{Size: len(data), Leaf: true}
	}

	feature := f.rng.Intn(f.NumFeatures)
	minVal, maxVal := featureRange(data, feature)
	if maxVal-minVal < 1e-12 {
		return &IsolationTree{Size: len(data), Leaf: true}
	}
	threshold := minVal + f.rng.Float64()*(maxVal-minVal)

	left, right := splitData(data, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return &IsolationTree{Size: len(data), Leaf: true}
	}

	return &IsolationTree{
		Feature:   feature,
		Threshold: threshold,
		Left:      f.buildTree(left, depth+1),
		Right:     f.buildTree(right, depth+1),
		Size:      len(data),
	}
}

func (f *IsolationForest) pathLength(tree *IsolationTree, point []float64, depth int) float64 {
	for !tree.Leaf {
		if tree.Feature >= len(point) {
			break
		}
		if point[tree.Feature] < tree.Threshold {
			tree = tree.Left
		} else {
			tree = tree.Right
		}
		depth++
	}
	return float64(depth) + averagePathLength(tree.Size)
}

// averagePathLength is c(n), the average path length of an unsuccessful
// search in a binary search tree of n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2H(n-1) - 2(n-1)/n with H(i) ≈ ln(i) + Euler-Mascheroni
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

func allIdentical(data [][]float64) bool {
	first := data[0]
	for _, p := range data[1:] {
		for j := range first {
			if math.Abs(p[j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, p := range data {
		v := p[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

func splitData(data [][]float64, feature int, threshold float64) ([][]float64, [][]float64) {
	var left, right [][]float64
	for _, p := range data {
		if p[feature] < threshold {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	return left, right
}

// Marshal serialises a fitted forest.
func (f *IsolationForest) Marshal() ([]byte, error) {
	if !f.Fitted() {
		return nil, errors.New("marshal: forest is not fitted")
	}
	return json.Marshal(f)
}

// Unmarshal restores a forest written by Marshal. Corrupt or structurally
// invalid payloads are rejected.
func Unmarshal(data []byte) (*IsolationForest, error) {
	f := &IsolationForest{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("decode isolation forest: %w", err)
	}
	if !f.Fitted() || f.NumFeatures <= 0 || f.SubSampleSize <= 0 {
		return nil, errors.New("decode isolation forest: model is empty")
	}
	for i, t := range f.Trees {
		if err := validateTree(t, f.NumFeatures); err != nil {
			return nil, fmt.Errorf("decode isolation forest: tree %d: %w", i, err)
		}
	}
	f.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	return f, nil
}

func validateTree(t *IsolationTree, numFeatures int) error {
	if t == nil {
		return errors.New("nil node")
	}
	if t.Leaf {
		return nil
	}
	if t.Feature < 0 || t.Feature >= numFeatures {
		return fmt.Errorf("feature %d out of range", t.Feature)
	}
	if err := validateTree(t.Left, numFeatures); err != nil {
		return err
	}
	return validateTree(t.Right, numFeatures)
}
