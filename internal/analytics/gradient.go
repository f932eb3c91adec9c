package analytics

import "fmt"

// Gradient вычисляет дискретную производную по номеру отсчета:
// центральные разности внутри, односторонние на краях.
func Gradient(values []float64) ([]float64, error) {
	n := len(values)
	if n < 2 {
		return nil, fmt.Errorf("%w: gradient needs at least 2 samples, got %d", ErrInvalidInput, n)
	}

	grad := make([]float64, n)
	grad[0] = values[1] - values[0]
	grad[n-1] = values[n-1] - values[n-2]
	for i := 1; i < n-1; i++ {
		grad[i] = (values[i+1] - values[i-1]) / 2
	}

	return grad, nil
}

// IncreasingRunProportion возвращает долю градиента, покрытую участками
// строгого возрастания. Длина участка считается в шагах g[i] > g[i-1].
func IncreasingRunProportion(gradient []float64) (float64, error) {
	if len(gradient) == 0 {
		return 0, fmt.Errorf("%w: empty gradient", ErrInvalidInput)
	}

	total := 0
	current := 0
	for i := 1; i < len(gradient); i++ {
		if gradient[i] > gradient[i-1] {
			current++
			continue
		}
		total += current
		current = 0
	}
	// хвостовой участок, если последовательность закончилась на подъеме
	total += current

	return float64(total) / float64(len(gradient)), nil
}
