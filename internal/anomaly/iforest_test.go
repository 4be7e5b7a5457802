package anomaly

import (
	"math"
	"testing"
)

func clusterWithOutlier() [][]float64 {
	points := make([][]float64, 0, 200)
	for i := 0; i < 199; i++ {
		points = append(points, []float64{80, 0})
	}
	return append(points, []float64{4444, 1})
}

func TestFitPredictFlagsIsolatedPoint(t *testing.T) {
	labels := NewIsolationForest(0.01, 42).FitPredict(clusterWithOutlier())

	if labels[199] != -1 {
		t.Fatalf("outlier label = %d, want -1", labels[199])
	}
	for i := 0; i < 199; i++ {
		if labels[i] != 1 {
			t.Fatalf("labels[%d] = %d, want 1", i, labels[i])
		}
	}
}

func TestFitPredictDeterministic(t *testing.T) {
	points := make([][]float64, 0, 300)
	for i := 0; i < 300; i++ {
		points = append(points, []float64{float64((i * 37) % 1024), float64(i % 3)})
	}
	f := NewIsolationForest(0.05, 7)

	a := f.FitPredict(points)
	b := f.FitPredict(points)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("label %d differs between runs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestFitPredictTinyInputs(t *testing.T) {
	f := NewIsolationForest(0.01, 42)
	if got := f.FitPredict(nil); len(got) != 0 {
		t.Fatalf("FitPredict(nil) = %v", got)
	}
	got := f.FitPredict([][]float64{{22, 1}})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("single point labels = %v, want [1]", got)
	}
}

func TestScoresBounded(t *testing.T) {
	scores := NewIsolationForest(0.01, 42).Scores(clusterWithOutlier())
	for i, s := range scores {
		if s <= 0 || s > 1 {
			t.Fatalf("scores[%d] = %v out of (0, 1]", i, s)
		}
	}
	if scores[199] <= scores[0] {
		t.Fatalf("outlier score %v not above inlier score %v", scores[199], scores[0])
	}
}

func TestAveragePathLength(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{256, 2*(math.Log(255)+eulerGamma) - 2*255.0/256.0},
	}
	for _, tt := range tests {
		if got := averagePathLength(tt.n); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("c(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{50, 2.5},
		{100, 4},
		{99, 3.97},
	}
	for _, tt := range tests {
		if got := percentile(values, tt.q); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("percentile(%v) = %v, want %v", tt.q, got, tt.want)
		}
	}
}
