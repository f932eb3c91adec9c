// Package signal содержит стандартные реализации внешних шагов классификатора:
// предобработку окна и детектор пиков пульсовой волны.
package signal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNoValidSamples в окне нет ни одного конечного отсчета
var ErrNoValidSamples = errors.New("no valid samples")

// Preprocessor интерполирует пропуски, фильтрует полосу пульса и сглаживает окно
type Preprocessor struct {
	LowCutHz  float64
	HighCutHz float64
	SmoothSec float64
}

// NewPreprocessor создает предобработку с полосой 0.5-12 Гц и сглаживанием 50 мс
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		LowCutHz:  0.5,
		HighCutHz: 12,
		SmoothSec: 0.05,
	}
}

// Preprocess возвращает очищенное окно той же длины
func (p *Preprocessor) Preprocess(raw []float64, hz int) ([]float64, error) {
	if hz <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", hz)
	}

	out, err := Interpolate(raw)
	if err != nil {
		return nil, err
	}

	out = BandPass(out, hz, p.LowCutHz, p.HighCutHz)

	window := int(math.Round(p.SmoothSec * float64(hz)))
	return Smooth(out, window), nil
}

// Interpolate линейно заполняет NaN/Inf; края держат ближайшее валидное значение
func Interpolate(raw []float64) ([]float64, error) {
	out := make([]float64, len(raw))
	copy(out, raw)

	prev := -1
	for i, v := range out {
		if !isFinite(v) {
			continue
		}
		switch {
		case prev < 0:
			for j := 0; j < i; j++ {
				out[j] = v
			}
		case i-prev > 1:
			step := (v - out[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				out[j] = out[prev] + step*float64(j-prev)
			}
		}
		prev = i
	}

	if prev < 0 {
		return nil, fmt.Errorf("interpolate %d samples: %w", len(raw), ErrNoValidSamples)
	}
	for j := prev + 1; j < len(out); j++ {
		out[j] = out[prev]
	}

	return out, nil
}

// BandPass фильтр первого порядка (ФВЧ, затем ФНЧ), проход вперед и назад без сдвига фазы
func BandPass(x []float64, hz int, lowCut, highCut float64) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	dt := 1 / float64(hz)
	nyquist := float64(hz) / 2
	if highCut >= nyquist {
		highCut = 0.9 * nyquist
	}

	out := make([]float64, len(x))
	copy(out, x)
	floats.AddConst(-stat.Mean(out, nil), out)

	if lowCut > 0 {
		rc := 1 / (2 * math.Pi * lowCut)
		alpha := rc / (rc + dt)
		highPass(out, alpha)
		reverse(out)
		highPass(out, alpha)
		reverse(out)
	}

	if highCut > 0 {
		rc := 1 / (2 * math.Pi * highCut)
		alpha := dt / (rc + dt)
		lowPass(out, alpha)
		reverse(out)
		lowPass(out, alpha)
		reverse(out)
	}

	return out
}

// Smooth центрированное скользящее среднее; на краях окно укорачивается
func Smooth(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	if window <= 1 {
		copy(out, x)
		return out
	}

	half := window / 2
	for i := range x {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(x) {
			hi = len(x)
		}
		out[i] = stat.Mean(x[lo:hi], nil)
	}
	return out
}

func highPass(x []float64, alpha float64) {
	prevIn := x[0]
	prevOut := 0.0
	x[0] = 0
	for i := 1; i < len(x); i++ {
		in := x[i]
		prevOut = alpha * (prevOut + in - prevIn)
		prevIn = in
		x[i] = prevOut
	}
}

func lowPass(x []float64, alpha float64) {
	for i := 1; i < len(x); i++ {
		x[i] = alpha*x[i] + (1-alpha)*x[i-1]
	}
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
