package train

import "math"

// Adam keeps first and second moment estimates per parameter slice.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
	m    map[*float64][]float64
	v    map[*float64][]float64
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		m:            make(map[*float64][]float64),
		v:            make(map[*float64][]float64),
	}
}

// Step advances the shared timestep. Call once per batch before Update.
func (a *Adam) Step() {
	a.step++
}

// Update applies one bias-corrected step to params given their gradient.
// Moments are keyed by the slice's backing array.
func (a *Adam) Update(params, grads []float64) {
	if len(params) == 0 {
		return
	}
	key := &params[0]
	m, ok := a.m[key]
	if !ok {
		m = make([]float64, len(params))
		a.m[key] = m
		a.v[key] = make([]float64, len(params))
	}
	v := a.v[key]

	t := float64(a.step)
	if t == 0 {
		t = 1
	}
	lr := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for i, g := range grads {
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
		params[i] -= lr * m[i] / (math.Sqrt(v[i]) + a.Epsilon)
	}
}
