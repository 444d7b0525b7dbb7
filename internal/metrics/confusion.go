// Package metrics scores predictions against ground truth.
package metrics

import (
	"fmt"
	"strings"
)

// ConfusionMatrix counts predictions: Counts[actual][predicted].
type ConfusionMatrix struct {
	Labels []string
	Counts [][]int
}

func NewConfusionMatrix(labels []string, yTrue, yPred []int) (*ConfusionMatrix, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("got %d true labels and %d predictions", len(yTrue), len(yPred))
	}

	n := len(labels)
	counts := make([][]int, n)
	for i := range counts {
		counts[i] = make([]int, n)
	}
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= n || p < 0 || p >= n {
			return nil, fmt.Errorf("sample %d: label %d or prediction %d out of range", i, t, p)
		}
		counts[t][p]++
	}
	return &ConfusionMatrix{Labels: labels, Counts: counts}, nil
}

func (m *ConfusionMatrix) Total() int {
	var total int
	for _, row := range m.Counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

// support is the number of samples whose true class is k.
func (m *ConfusionMatrix) support(k int) int {
	var s int
	for _, c := range m.Counts[k] {
		s += c
	}
	return s
}

// predicted is the number of samples predicted as class k.
func (m *ConfusionMatrix) predicted(k int) int {
	var s int
	for _, row := range m.Counts {
		s += row[k]
	}
	return s
}

func (m *ConfusionMatrix) String() string {
	width := 5
	for _, row := range m.Counts {
		for _, c := range row {
			if w := len(fmt.Sprint(c)) + 1; w > width {
				width = w
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s", width, "")
	for k := range m.Labels {
		fmt.Fprintf(&b, "%*d", width, k)
	}
	b.WriteString("\n")
	for i, row := range m.Counts {
		fmt.Fprintf(&b, "%*d", width, i)
		for _, c := range row {
			fmt.Fprintf(&b, "%*d", width, c)
		}
		b.WriteString("\n")
	}
	return b.String()
}
