package signal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ppg-validator/internal/analytics"
)

// PeakDetector ищет систолические пики и следующие за ними впадины
type PeakDetector struct {
	// MinDistanceSec рефрактерный интервал между пиками (0.3 с = 200 уд/мин)
	MinDistanceSec float64
	// MinDurationSec минимальная длина сегмента
	MinDurationSec float64
	// MinStdDev ниже этого разброса сигнал считается плоским
	MinStdDev float64
}

// NewPeakDetector создает детектор с параметрами по умолчанию
func NewPeakDetector() *PeakDetector {
	return &PeakDetector{
		MinDistanceSec: 0.3,
		MinDurationSec: 1,
		MinStdDev:      1e-9,
	}
}

// DetectPeaks возвращает впадины и пики. Впадина k лежит между пиком k и пиком k+1,
// поэтому пиков на один больше, чем впадин.
func (d *PeakDetector) DetectPeaks(segment []float64, hz int) ([]int, []int, error) {
	if hz <= 0 {
		return nil, nil, fmt.Errorf("%w: sample rate must be positive", analytics.ErrDetectionFailure)
	}
	if float64(len(segment)) < d.MinDurationSec*float64(hz) {
		return nil, nil, fmt.Errorf("%w: segment of %d samples is shorter than %.1fs",
			analytics.ErrDetectionFailure, len(segment), d.MinDurationSec)
	}
	if floats.HasNaN(segment) {
		return nil, nil, fmt.Errorf("%w: segment contains NaN", analytics.ErrDetectionFailure)
	}

	mean, std := stat.MeanStdDev(segment, nil)
	if std < d.MinStdDev || floats.Max(segment)-floats.Min(segment) < d.MinStdDev {
		return nil, nil, fmt.Errorf("%w: flat segment", analytics.ErrDetectionFailure)
	}

	distance := int(math.Round(d.MinDistanceSec * float64(hz)))
	if distance < 1 {
		distance = 1
	}

	maxima := findCrests(segment, mean, distance)
	minima := make([]int, 0, len(maxima))
	for k := 0; k+1 < len(maxima); k++ {
		trough := maxima[k] + 1 + floats.MinIdx(segment[maxima[k]+1:maxima[k+1]])
		minima = append(minima, trough)
	}

	return minima, maxima, nil
}

// findCrests локальные максимумы выше среднего; в пределах рефрактерного
// интервала остается больший из двух
func findCrests(x []float64, level float64, distance int) []int {
	var crests []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] <= level || x[i] <= x[i-1] || x[i] < x[i+1] {
			continue
		}

		last := len(crests) - 1
		if last >= 0 && i-crests[last] < distance {
			if x[i] > x[crests[last]] {
				crests[last] = i
			}
			continue
		}
		crests = append(crests, i)
	}
	return crests
}
