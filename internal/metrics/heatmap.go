package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// grid exposes a confusion matrix as plotter.GridXYZ: column = predicted,
// row = actual. gonum puts grid row 0 at the bottom, so rows are flipped
// to keep actual class 0 on top as in the printed matrix.
type grid struct {
	m *ConfusionMatrix
}

func (g grid) Dims() (c, r int)   { return len(g.m.Labels), len(g.m.Labels) }
func (g grid) Z(c, r int) float64 { return float64(g.m.Counts[g.flip(r)][c]) }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

// flip converts between a grid row and an actual-class row.
func (g grid) flip(r int) int { return len(g.m.Labels) - 1 - r }

// rowLabels returns the y-axis tick labels, bottom to top.
func (g grid) rowLabels() []string {
	labels := make([]string, len(g.m.Labels))
	for r := range labels {
		labels[r] = g.m.Labels[g.flip(r)]
	}
	return labels
}

// SaveHeatmap renders the matrix with annotated counts. The image format
// follows the file extension (png, svg, pdf, ...).
func SaveHeatmap(m *ConfusionMatrix, path string) error {
	if len(m.Labels) == 0 {
		return fmt.Errorf("confusion matrix is empty")
	}

	p := plot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"

	g := grid{m: m}
	hm := plotter.NewHeatMap(g, palette.Heat(12, 1))
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	var annotations plotter.XYLabels
	for r, row := range m.Counts {
		for c, count := range row {
			annotations.XYs = append(annotations.XYs, plotter.XY{X: float64(c), Y: float64(g.flip(r))})
			annotations.Labels = append(annotations.Labels, strconv.Itoa(count))
		}
	}
	labels, err := plotter.NewLabels(annotations)
	if err != nil {
		return fmt.Errorf("failed to annotate heatmap: %w", err)
	}
	p.Add(labels)

	p.NominalX(m.Labels...)
	p.NominalY(g.rowLabels()...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create heatmap directory: %w", err)
	}
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save heatmap: %w", err)
	}
	return nil
}
