package model

import (
	"fmt"
	"log"
	"sync"

	"github.com/Brownie44l1/dr-api/internal/preprocess"
	ort "github.com/yalue/onnxruntime_go"
)

// FeatureExtractor turns one preprocessed image tensor into a pooled
// feature vector.
type FeatureExtractor interface {
	Features(input []float32) ([]float64, error)
}

// InitRuntime loads the ONNX Runtime shared library. An empty path keeps
// the library's default lookup.
func InitRuntime(libraryPath string) error {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		log.Printf("Failed to destroy ONNX environment: %v", err)
	}
}

// Backbone runs the frozen convolutional trunk through ONNX Runtime and
// global-average-pools its output. The session binds a single input and
// output tensor, so calls are serialized.
type Backbone struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	outputShape  []int64
	layout       preprocess.Layout
}

func NewBackbone(modelPath string, meta Metadata) (*Backbone, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Backbone{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		outputShape:  meta.OutputShape,
		layout:       meta.Layout,
	}, nil
}

func (b *Backbone) Features(input []float32) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dst := b.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return GlobalAveragePool(b.outputTensor.GetData(), b.outputShape, b.layout)
}

func (b *Backbone) Close() {
	if b.inputTensor != nil {
		b.inputTensor.Destroy()
	}
	if b.outputTensor != nil {
		b.outputTensor.Destroy()
	}
	if b.session != nil {
		b.session.Destroy()
	}
}

// InspectBackbone reads the tensor names and shapes of an exported
// backbone. The batch dimension is pinned to 1 and the input's spatial
// dimensions to imageSize; the output must otherwise be static.
func InspectBackbone(modelPath string, imageSize int, layout preprocess.Layout) (Metadata, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read backbone info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return Metadata{}, fmt.Errorf("backbone must have one input and at least one output, got %d/%d", len(inputs), len(outputs))
	}

	var inputShape []int64
	if layout == preprocess.NCHW {
		inputShape = []int64{1, 3, int64(imageSize), int64(imageSize)}
	} else {
		inputShape = []int64{1, int64(imageSize), int64(imageSize), 3}
	}

	outputShape := make([]int64, len(outputs[0].Dimensions))
	copy(outputShape, outputs[0].Dimensions)
	if len(outputShape) > 0 && outputShape[0] < 1 {
		outputShape[0] = 1
	}
	for i, d := range outputShape {
		if d < 1 {
			return Metadata{}, fmt.Errorf("backbone output dimension %d is dynamic (%v)", i, outputs[0].Dimensions)
		}
	}

	featureSize, err := featureChannels(outputShape, layout)
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{
		InputName:   inputs[0].Name,
		OutputName:  outputs[0].Name,
		InputShape:  inputShape,
		OutputShape: outputShape,
		ImageSize:   imageSize,
		Layout:      layout,
		FeatureSize: featureSize,
	}, nil
}

func featureChannels(shape []int64, layout preprocess.Layout) (int, error) {
	switch len(shape) {
	case 2:
		return int(shape[1]), nil
	case 4:
		if layout == preprocess.NCHW {
			return int(shape[1]), nil
		}
		return int(shape[3]), nil
	default:
		return 0, fmt.Errorf("unsupported backbone output rank %d", len(shape))
	}
}

// GlobalAveragePool averages a [1,H,W,C] or [1,C,H,W] feature map over its
// spatial dimensions. A [1,C] output is already pooled.
func GlobalAveragePool(data []float32, shape []int64, layout preprocess.Layout) ([]float64, error) {
	total := int64(1)
	for _, d := range shape {
		total *= d
	}
	if int64(len(data)) != total {
		return nil, fmt.Errorf("feature map has %d values, shape %v needs %d", len(data), shape, total)
	}

	if len(shape) == 2 {
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	}

	channels, err := featureChannels(shape, layout)
	if err != nil {
		return nil, err
	}
	spatial := len(data) / channels

	out := make([]float64, channels)
	if layout == preprocess.NCHW {
		for c := 0; c < channels; c++ {
			for _, v := range data[c*spatial : (c+1)*spatial] {
				out[c] += float64(v)
			}
		}
	} else {
		for i, v := range data {
			out[i%channels] += float64(v)
		}
	}
	for c := range out {
		out[c] /= float64(spatial)
	}
	return out, nil
}
