package train

import (
	"math"

	"github.com/Brownie44l1/dr-api/internal/model"
)

// EarlyStopping watches the validation loss and keeps a copy of the head
// from the best epoch seen.
type EarlyStopping struct {
	Patience int

	best      float64
	bestEpoch int
	bestHead  *model.Head
	wait      int
}

func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{Patience: patience, best: math.Inf(1), bestEpoch: -1}
}

// Observe records an epoch's validation loss and reports whether training
// should stop.
func (e *EarlyStopping) Observe(epoch int, valLoss float64, head *model.Head) bool {
	if valLoss < e.best {
		e.best = valLoss
		e.bestEpoch = epoch
		e.bestHead = head.Clone()
		e.wait = 0
		return false
	}
	e.wait++
	return e.wait >= e.Patience
}

// Best returns the best head and its epoch, or nil before any epoch.
func (e *EarlyStopping) Best() (*model.Head, int) {
	return e.bestHead, e.bestEpoch
}
