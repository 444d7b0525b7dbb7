// Package train fits the classification head on features from the frozen
// backbone.
package train

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/Brownie44l1/dr-api/internal/dataset"
	"github.com/Brownie44l1/dr-api/internal/model"
)

// probability clipping used by the cross-entropy loss
const epsilon = 1e-7

type Options struct {
	Epochs       int
	LearningRate float64
	Patience     int
	Seed         int64
}

type EpochStats struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
}

type History struct {
	Epochs    []EpochStats
	BestEpoch int
	Stopped   bool
}

type Trainer struct {
	extractor model.FeatureExtractor
	opts      Options
	rng       *rand.Rand
}

func NewTrainer(extractor model.FeatureExtractor, opts Options) *Trainer {
	return &Trainer{
		extractor: extractor,
		opts:      opts,
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}
}

type example struct {
	features []float64
	label    int
}

// Fit trains head in place and returns the weights from the epoch with the
// lowest validation loss.
func (t *Trainer) Fit(ctx context.Context, head *model.Head, train, val *dataset.Feed) (*model.Head, *History, error) {
	valSet, err := t.extract(ctx, head, val, val.Samples)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract validation features: %w", err)
	}

	opt := NewAdam(t.opts.LearningRate)
	stopper := NewEarlyStopping(t.opts.Patience)
	history := &History{}

	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		var lossSum float64
		var correct, seen int

		for _, batch := range train.Batches() {
			examples, err := t.extract(ctx, head, train, batch)
			if err != nil {
				return nil, nil, err
			}
			loss, hits := t.step(opt, head, examples)
			lossSum += loss
			correct += hits
			seen += len(examples)
		}

		valLoss, valAcc, err := evaluate(head, valSet)
		if err != nil {
			return nil, nil, err
		}

		stats := EpochStats{
			Epoch:       epoch,
			Loss:        lossSum / float64(seen),
			Accuracy:    float64(correct) / float64(seen),
			ValLoss:     valLoss,
			ValAccuracy: valAcc,
		}
		history.Epochs = append(history.Epochs, stats)
		log.Printf("Epoch %d/%d - loss: %.4f - accuracy: %.4f - val_loss: %.4f - val_accuracy: %.4f",
			epoch, t.opts.Epochs, stats.Loss, stats.Accuracy, stats.ValLoss, stats.ValAccuracy)

		if stopper.Observe(epoch, valLoss, head) {
			history.Stopped = true
			log.Printf("Epoch %d: early stopping", epoch)
			break
		}
	}

	best, bestEpoch := stopper.Best()
	if best == nil {
		return head, history, nil
	}
	history.BestEpoch = bestEpoch
	log.Printf("Restoring model weights from the end of the best epoch: %d", bestEpoch)
	return best, history, nil
}

func (t *Trainer) extract(ctx context.Context, head *model.Head, feed *dataset.Feed, samples []dataset.Sample) ([]example, error) {
	out := make([]example, 0, len(samples))
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		input, err := feed.Tensor(s)
		if err != nil {
			return nil, err
		}
		features, err := t.extractor.Features(input)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Path, err)
		}
		if len(features) != head.Features {
			return nil, fmt.Errorf("%s: backbone returned %d features, head expects %d", s.Path, len(features), head.Features)
		}
		if s.Label >= head.Classes {
			return nil, fmt.Errorf("%s: label %d outside the head's %d classes", s.Path, s.Label, head.Classes)
		}
		out = append(out, example{features: features, label: s.Label})
	}
	return out, nil
}

// step runs one mini-batch with dropout and applies the averaged gradient.
// It returns the summed loss and the number of correct predictions.
func (t *Trainer) step(opt *Adam, head *model.Head, batch []example) (float64, int) {
	gradW := make([]float64, len(head.Weights))
	gradB := make([]float64, len(head.Bias))
	keep := 1 - head.Dropout

	var lossSum float64
	var correct int
	x := make([]float64, head.Features)
	for _, ex := range batch {
		for j, v := range ex.features {
			if head.Dropout > 0 && t.rng.Float64() < head.Dropout {
				x[j] = 0
			} else {
				x[j] = v / keep
			}
		}

		probs := model.Softmax(head.Logits(x))
		lossSum += crossEntropy(probs, ex.label)
		if idx, _ := model.ArgMax(probs); idx == ex.label {
			correct++
		}

		for k, p := range probs {
			d := p
			if k == ex.label {
				d -= 1
			}
			gradB[k] += d
			row := gradW[k*head.Features : (k+1)*head.Features]
			for j, v := range x {
				row[j] += d * v
			}
		}
	}

	n := float64(len(batch))
	for i := range gradW {
		gradW[i] /= n
	}
	for i := range gradB {
		gradB[i] /= n
	}

	opt.Step()
	opt.Update(head.Weights, gradW)
	opt.Update(head.Bias, gradB)
	return lossSum, correct
}

func evaluate(head *model.Head, set []example) (float64, float64, error) {
	if len(set) == 0 {
		return 0, 0, fmt.Errorf("validation set is empty")
	}
	var lossSum float64
	var correct int
	for _, ex := range set {
		probs, err := head.Probabilities(ex.features)
		if err != nil {
			return 0, 0, err
		}
		lossSum += crossEntropy(probs, ex.label)
		if idx, _ := model.ArgMax(probs); idx == ex.label {
			correct++
		}
	}
	n := float64(len(set))
	return lossSum / n, float64(correct) / n, nil
}

func crossEntropy(probs []float64, label int) float64 {
	p := math.Min(math.Max(probs[label], epsilon), 1-epsilon)
	return -math.Log(p)
}
