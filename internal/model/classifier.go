package model

import (
	"fmt"
	"image"
	"math"

	"github.com/Brownie44l1/dr-api/internal/preprocess"
)

// Classifier is the loaded, read-only model shared by every request.
type Classifier struct {
	extractor FeatureExtractor
	head      *Head
	meta      Metadata
	prep      preprocess.Preprocessor
}

func NewClassifier(extractor FeatureExtractor, artifact *Artifact) (*Classifier, error) {
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		extractor: extractor,
		head:      artifact.Head.Clone(),
		meta:      artifact.Metadata,
		prep:      artifact.Metadata.Preprocessor(),
	}, nil
}

// LoadClassifier reads the artifact and binds it to the ONNX backbone.
func LoadClassifier(artifactPath, backbonePath string) (*Classifier, error) {
	artifact, err := LoadArtifact(artifactPath)
	if err != nil {
		return nil, err
	}

	backbone, err := NewBackbone(backbonePath, artifact.Metadata)
	if err != nil {
		return nil, err
	}

	c, err := NewClassifier(backbone, artifact)
	if err != nil {
		backbone.Close()
		return nil, err
	}
	return c, nil
}

func (c *Classifier) Metadata() Metadata {
	return c.meta
}

// Probabilities returns the softmax output for one decoded image.
func (c *Classifier) Probabilities(img image.Image) ([]float64, error) {
	input, err := c.prep.Tensor(img)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess image: %w", err)
	}

	features, err := c.extractor.Features(input)
	if err != nil {
		return nil, err
	}
	return c.head.Probabilities(features)
}

func (c *Classifier) Predict(img image.Image) (*Prediction, error) {
	probs, err := c.Probabilities(img)
	if err != nil {
		return nil, err
	}

	maxIdx, maxVal := ArgMax(probs)
	scores := make([]Score, len(probs))
	for i, p := range probs {
		scores[i] = Score{Label: c.meta.Classes[i], Percent: percent(p)}
	}

	return &Prediction{
		ClassIndex: maxIdx,
		Class:      c.meta.Classes[maxIdx],
		Confidence: percent(maxVal),
		Scores:     scores,
	}, nil
}

func (c *Classifier) Close() {
	if closer, ok := c.extractor.(interface{ Close() }); ok {
		closer.Close()
	}
}

// percent converts a probability to a percentage rounded to 2 decimals.
func percent(p float64) float64 {
	return math.Round(p*100*100) / 100
}
