package model

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Brownie44l1/dr-api/internal/preprocess"
	"github.com/Brownie44l1/dr-api/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// meanExtractor pools each channel of an NHWC tensor, standing in for the
// ONNX backbone.
type meanExtractor struct{}

func (meanExtractor) Features(input []float32) ([]float64, error) {
	return GlobalAveragePool(input, []int64{1, 1, int64(len(input) / 3), 3}, preprocess.NHWC)
}

func testArtifact() *Artifact {
	classes := make([]string, len(GradeLabels))
	dirs := make([]string, len(GradeLabels))
	for i := range GradeLabels {
		dirs[i] = string(rune('0' + i))
		classes[i] = LabelFor(dirs[i])
	}
	return &Artifact{
		Metadata: Metadata{
			InputName:     "input",
			OutputName:    "features",
			InputShape:    []int64{1, 4, 4, 3},
			OutputShape:   []int64{1, 3},
			ImageSize:     4,
			Layout:        preprocess.NHWC,
			Normalization: preprocess.Rescale,
			FeatureSize:   3,
			ClassDirs:     dirs,
			Classes:       classes,
		},
		Head: NewHead(len(GradeLabels), 3, 0.4, rand.New(rand.NewSource(7))),
	}
}

func fill(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, "No DR", LabelFor("0"))
	assert.Equal(t, "Proliferative DR", LabelFor("4"))
	assert.Equal(t, "7", LabelFor("7"))
	assert.Equal(t, "04", LabelFor("04"))
	assert.Equal(t, "other", LabelFor("other"))
}

func TestHeadProbabilitiesSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	head := NewHead(5, 16, 0.4, rng)

	for i := 0; i < 20; i++ {
		x := make([]float64, 16)
		for j := range x {
			x[j] = rng.NormFloat64() * 10
		}
		probs, err := head.Probabilities(x)
		require.NoError(t, err)
		require.Len(t, probs, 5)

		var sum float64
		for _, p := range probs {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	_, err := head.Probabilities(make([]float64, 3))
	assert.Error(t, err)
}

func TestSoftmaxStableForLargeLogits(t *testing.T) {
	probs := Softmax([]float64{1000, 1000, 0})
	assert.InDelta(t, 0.5, probs[0], 1e-12)
	assert.InDelta(t, 0.5, probs[1], 1e-12)
	assert.InDelta(t, 0.0, probs[2], 1e-12)
}

func TestArgMaxFirstWins(t *testing.T) {
	idx, val := ArgMax([]float64{0.1, 0.4, 0.4, 0.1})
	assert.Equal(t, 1, idx)
	assert.Equal(t, 0.4, val)
}

func TestGlobalAveragePool(t *testing.T) {
	// 2x1 spatial, 2 channels.
	nhwc := []float32{1, 10, 3, 20}
	out, err := GlobalAveragePool(nhwc, []int64{1, 2, 1, 2}, preprocess.NHWC)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 15}, out)

	nchw := []float32{1, 3, 10, 20}
	out, err = GlobalAveragePool(nchw, []int64{1, 2, 2, 1}, preprocess.NCHW)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 15}, out)

	_, err = GlobalAveragePool(nhwc, []int64{1, 3, 1, 2}, preprocess.NHWC)
	assert.Error(t, err)
}

func TestClassifierPredictIsDeterministic(t *testing.T) {
	c, err := NewClassifier(meanExtractor{}, testArtifact())
	require.NoError(t, err)

	img := fill(color.RGBA{R: 200, G: 90, B: 30, A: 255})
	first, err := c.Predict(img)
	require.NoError(t, err)
	second, err := c.Predict(img)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, GradeLabels[first.ClassIndex], first.Class)
	assert.Len(t, first.Scores, 5)
	assert.Equal(t, first.Confidence, first.Scores[first.ClassIndex].Percent)
	assert.Equal(t, first.Confidence, percent(first.Confidence/100))
}

func TestPercentRounding(t *testing.T) {
	assert.Equal(t, 87.35, percent(0.873456))
	assert.Equal(t, 100.0, percent(1))
}

func TestArtifactSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "dr_final_model.json")
	a := testArtifact()
	require.NoError(t, a.Save(path))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, a.Metadata, loaded.Metadata)
	assert.InDeltaSlice(t, a.Head.Weights, loaded.Head.Weights, 1e-12)
}

func TestArtifactValidateRejectsMismatchedHead(t *testing.T) {
	a := testArtifact()
	a.Head = NewHead(5, 4, 0.4, rand.New(rand.NewSource(1)))
	assert.Error(t, a.Validate())

	a = testArtifact()
	a.Metadata.Normalization = ""
	assert.Error(t, a.Validate())
}

func TestEnsureFile(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	cfg := retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 1}
	path := filepath.Join(t.TempDir(), "m", "backbone.onnx")

	require.NoError(t, EnsureFile(context.Background(), srv.Client(), path, srv.URL, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))
	assert.Equal(t, int32(2), hits.Load())

	// Present files are never fetched again.
	require.NoError(t, EnsureFile(context.Background(), srv.Client(), path, srv.URL, cfg))
	assert.Equal(t, int32(2), hits.Load())
}

func TestEnsureFileNotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 1}
	path := filepath.Join(t.TempDir(), "missing.json")

	err := EnsureFile(context.Background(), srv.Client(), path, srv.URL, cfg)
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.NoFileExists(t, path)
}

func TestEnsureFileWithoutURL(t *testing.T) {
	err := EnsureFile(context.Background(), nil, filepath.Join(t.TempDir(), "x"), "", retry.DefaultConfig())
	assert.Error(t, err)
}
