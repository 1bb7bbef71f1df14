package engine

import (
	"math"
	"testing"
)

func TestProspectValueGainsAndLosses(t *testing.T) {
	if v := ProspectValue(10, 0.88, 2.25); v <= 0 {
		t.Fatalf("expected positive subjective value for a gain, got %v", v)
	}
	if v := ProspectValue(-10, 0.88, 2.25); v >= 0 {
		t.Fatalf("expected negative subjective value for a loss, got %v", v)
	}
	// Loss aversion: |v(-x)| > v(x) for lambda > 1.
	gain := ProspectValue(10, 0.88, 2.25)
	loss := ProspectValue(-10, 0.88, 2.25)
	if math.Abs(loss) <= gain {
		t.Fatalf("loss aversion violated: |loss|=%v should exceed gain=%v", math.Abs(loss), gain)
	}
}

func TestPrelecWeightBounds(t *testing.T) {
	if w := PrelecWeight(0, 0.65, 0.9); w != 0 {
		t.Fatalf("PrelecWeight(0) = %v, want 0", w)
	}
	if w := PrelecWeight(1, 0.65, 0.9); w != 1 {
		t.Fatalf("PrelecWeight(1) = %v, want 1", w)
	}
	if w := PrelecWeight(0.5, 0.65, 0.9); w <= 0 || w >= 1 {
		t.Fatalf("PrelecWeight(0.5) = %v, want in (0,1)", w)
	}
}

func TestArgmaxIsOneHotAtMax(t *testing.T) {
	out := Argmax([]float64{0.1, 0.9, 0.3})
	if out[1] != 1 {
		t.Fatalf("expected one-hot at index 1, got %v", out)
	}
	var sum float64
	for _, v := range out {
		sum += v
	}
	if sum != 1 {
		t.Fatalf("expected exactly one hot entry, sum=%v", sum)
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	out := Softmax([]float64{1, 2, 3}, 1.0)
	var sum float64
	for _, v := range out {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("softmax should sum to 1, got %v", sum)
	}
}

func TestDecideDeterministic(t *testing.T) {
	bp := BehavioralParams{SoftmaxTemperature: 1.0}
	u := []float64{0.2, 0.5, 0.1}

	a1, p1 := Decide(u, bp, 42, 3, 7)
	a2, p2 := Decide(u, bp, 42, 3, 7)

	if a1 != a2 {
		t.Fatalf("Decide not deterministic: %d != %d", a1, a2)
	}
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("probabilities diverged at %d", i)
		}
	}
}

func TestApplyBiasesDoesNotMutateInput(t *testing.T) {
	base := UtilityMatrix{{0.1, 0.2}, {0.3, 0.4}}
	agents := []*Agent{
		{Index: 0, Profile: Profile{BehavioralParams: BehavioralParams{BoundedRationality: 0}}},
		{Index: 1, Profile: Profile{BehavioralParams: BehavioralParams{BoundedRationality: 0}}},
	}
	out := ApplyBiases(base, agents, PolicyContext{}, 1, 1)
	if &out[0][0] == &base[0][0] {
		t.Fatalf("ApplyBiases must return a clone, not alias the input matrix")
	}
	if base[0][0] != 0.1 || base[1][1] != 0.4 {
		t.Fatalf("ApplyBiases mutated its input: %+v", base)
	}
}
