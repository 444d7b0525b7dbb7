package model

import (
	"fmt"
	"math"
	"math/rand"
)

// Head is the trainable classifier on top of the pooled backbone
// features: dropout followed by a dense softmax layer.
type Head struct {
	Classes  int       `json:"classes"`
	Features int       `json:"features"`
	Dropout  float64   `json:"dropout"`
	Weights  []float64 `json:"weights"` // row-major [class][feature]
	Bias     []float64 `json:"bias"`
}

// NewHead initializes weights with Glorot uniform and zero bias.
func NewHead(classes, features int, dropout float64, rng *rand.Rand) *Head {
	limit := math.Sqrt(6 / float64(classes+features))
	weights := make([]float64, classes*features)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * limit
	}
	return &Head{
		Classes:  classes,
		Features: features,
		Dropout:  dropout,
		Weights:  weights,
		Bias:     make([]float64, classes),
	}
}

func (h *Head) Validate() error {
	if h.Classes <= 0 || h.Features <= 0 {
		return fmt.Errorf("invalid head dimensions %dx%d", h.Classes, h.Features)
	}
	if len(h.Weights) != h.Classes*h.Features || len(h.Bias) != h.Classes {
		return fmt.Errorf("head has %d weights and %d biases, want %d and %d",
			len(h.Weights), len(h.Bias), h.Classes*h.Features, h.Classes)
	}
	return nil
}

// Logits computes the dense layer for one feature vector.
func (h *Head) Logits(x []float64) []float64 {
	out := make([]float64, h.Classes)
	for k := 0; k < h.Classes; k++ {
		row := h.Weights[k*h.Features : (k+1)*h.Features]
		sum := h.Bias[k]
		for j, w := range row {
			sum += w * x[j]
		}
		out[k] = sum
	}
	return out
}

// Probabilities runs the head in inference mode; dropout is inactive.
func (h *Head) Probabilities(x []float64) ([]float64, error) {
	if len(x) != h.Features {
		return nil, fmt.Errorf("expected %d features, got %d", h.Features, len(x))
	}
	return Softmax(h.Logits(x)), nil
}

func (h *Head) Clone() *Head {
	c := *h
	c.Weights = append([]float64(nil), h.Weights...)
	c.Bias = append([]float64(nil), h.Bias...)
	return &c
}

// Softmax is shifted by the max logit for numerical stability.
func Softmax(logits []float64) []float64 {
	max := math.Inf(-1)
	for _, v := range logits {
		if v > max {
			max = v
		}
	}

	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ArgMax returns the first index holding the largest value.
func ArgMax(v []float64) (int, float64) {
	maxIdx := 0
	maxVal := v[0]
	for i, val := range v {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx, maxVal
}
