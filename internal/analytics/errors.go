package analytics

import "errors"

var (
	// ErrInvalidInput пустая или вырожденная числовая последовательность
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfiguration недопустимые пороги или длина окна
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrDetectionFailure детектор пиков не смог разметить сегмент.
	// Наружу не пробрасывается: сегмент получает вердикт INDETERMINATE.
	ErrDetectionFailure = errors.New("peak detection failed")
)
