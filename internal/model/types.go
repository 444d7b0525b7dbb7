package model

import (
	"fmt"
	"strconv"

	"github.com/Brownie44l1/dr-api/internal/preprocess"
)

// GradeLabels maps a retinopathy grade to its display label.
var GradeLabels = []string{
	"No DR",
	"Mild",
	"Moderate",
	"Severe",
	"Proliferative DR",
}

// LabelFor returns the display label of a class folder. Numeric grade
// folders use GradeLabels; anything else is shown as is.
func LabelFor(dir string) string {
	grade, err := strconv.Atoi(dir)
	if err != nil || strconv.Itoa(grade) != dir {
		return dir
	}
	if grade >= 0 && grade < len(GradeLabels) {
		return GradeLabels[grade]
	}
	return dir
}

// Metadata describes the backbone tensors and the preprocessing the head
// was trained with.
type Metadata struct {
	InputName     string                   `json:"input_name"`
	OutputName    string                   `json:"output_name"`
	InputShape    []int64                  `json:"input_shape"`
	OutputShape   []int64                  `json:"output_shape"`
	ImageSize     int                      `json:"image_size"`
	Layout        preprocess.Layout        `json:"layout"`
	Normalization preprocess.Normalization `json:"normalization"`
	FeatureSize   int                      `json:"feature_size"`
	ClassDirs     []string                 `json:"class_dirs"`
	Classes       []string                 `json:"classes"`
}

func (m Metadata) Preprocessor() preprocess.Preprocessor {
	return preprocess.Preprocessor{
		Size:          m.ImageSize,
		Layout:        m.Layout,
		Normalization: m.Normalization,
	}
}

// ClassIndex returns the index of a class folder name.
func (m Metadata) ClassIndex(dir string) (int, bool) {
	for i, d := range m.ClassDirs {
		if d == dir {
			return i, true
		}
	}
	return 0, false
}

func (m Metadata) Validate() error {
	if err := m.Preprocessor().Validate(); err != nil {
		return err
	}
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("backbone input and output names are required")
	}
	if m.FeatureSize <= 0 {
		return fmt.Errorf("invalid feature size %d", m.FeatureSize)
	}
	if len(m.Classes) == 0 || len(m.Classes) != len(m.ClassDirs) {
		return fmt.Errorf("class labels (%d) and class folders (%d) do not match", len(m.Classes), len(m.ClassDirs))
	}
	return nil
}

// Score is the probability of one class, in percent.
type Score struct {
	Label   string  `json:"label"`
	Percent float64 `json:"percent"`
}

type Prediction struct {
	ClassIndex int     `json:"class_index"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Scores     []Score `json:"scores"`
}
