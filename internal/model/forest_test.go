package model

import (
	"encoding/json"
	"math/rand"
	"testing"
)

func clusterAround(center float64, n int, spread float64, rng *rand.Rand) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{center + (rng.Float64()*2-1)*spread}
	}
	return out
}

func TestFitForest_SeparatesOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := clusterAround(150, 200, 50, rng)

	f, err := FitForest(data, 0.05, ForestParams{Seed: 42})
	if err != nil {
		t.Fatalf("FitForest: %v", err)
	}

	inlier := f.AnomalyScore([]float64{150})
	outlier := f.AnomalyScore([]float64{5000})
	if outlier <= inlier {
		t.Errorf("outlier score %.3f should exceed inlier score %.3f", outlier, inlier)
	}
	if f.Outlier([]float64{150}) {
		t.Error("mid-cluster point flagged as outlier")
	}
	if !f.Outlier([]float64{5000}) {
		t.Error("far point not flagged as outlier")
	}
}

func TestFitForest_ScoreBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := clusterAround(0, 100, 1, rng)
	f, err := FitForest(data, 0.1, ForestParams{Seed: 7, Trees: 50})
	if err != nil {
		t.Fatalf("FitForest: %v", err)
	}
	for _, v := range []float64{-1000, -1, 0, 1, 1000} {
		s := f.AnomalyScore([]float64{v})
		if s <= 0 || s >= 1 {
			t.Errorf("score %.4f for %v out of (0, 1)", s, v)
		}
	}
}

func TestFitForest_CutoffCalibration(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	data := clusterAround(100, 100, 30, rng)
	contamination := 0.1

	f, err := FitForest(data, contamination, ForestParams{Seed: 99})
	if err != nil {
		t.Fatalf("FitForest: %v", err)
	}

	flagged := 0
	for _, vec := range data {
		if f.Outlier(vec) {
			flagged++
		}
	}
	// Roughly a contamination fraction of the training set should land
	// past the cutoff.
	if flagged > len(data)/4 {
		t.Errorf("%d of %d training points flagged, cutoff miscalibrated", flagged, len(data))
	}
}

func TestFitForest_Errors(t *testing.T) {
	if _, err := FitForest(nil, 0.05, ForestParams{}); err == nil {
		t.Error("empty batch should error")
	}
	if _, err := FitForest([][]float64{{}, {}}, 0.05, ForestParams{}); err != ErrNoFeatures {
		t.Errorf("expected ErrNoFeatures, got %v", err)
	}
}

func TestFitForest_IdenticalPoints(t *testing.T) {
	data := make([][]float64, 50)
	for i := range data {
		data[i] = []float64{3.14, 2.71}
	}
	f, err := FitForest(data, 0.05, ForestParams{Seed: 1})
	if err != nil {
		t.Fatalf("FitForest: %v", err)
	}
	s := f.AnomalyScore([]float64{3.14, 2.71})
	if s <= 0 || s >= 1 {
		t.Errorf("score %.4f out of bounds on degenerate data", s)
	}
}

func TestForest_JSONRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := clusterAround(10, 64, 2, rng)
	f, err := FitForest(data, 0.05, ForestParams{Seed: 3, Trees: 10})
	if err != nil {
		t.Fatalf("FitForest: %v", err)
	}

	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Forest
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	probe := []float64{10.5}
	if got, want := back.AnomalyScore(probe), f.AnomalyScore(probe); got != want {
		t.Errorf("round-tripped forest scores %.6f, original %.6f", got, want)
	}
	if back.Cutoff != f.Cutoff {
		t.Errorf("cutoff lost in round trip: %.6f vs %.6f", back.Cutoff, f.Cutoff)
	}
}

func TestAvgPathLength(t *testing.T) {
	cases := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
	}
	for _, c := range cases {
		if got := avgPathLength(c.n); got != c.want {
			t.Errorf("avgPathLength(%d) = %v, want %v", c.n, got, c.want)
		}
	}
	if got := avgPathLength(256); got < 9 || got > 12 {
		t.Errorf("avgPathLength(256) = %v, expected near 10.2", got)
	}
}
