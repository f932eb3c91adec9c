package analytics

import (
	"fmt"
	"math"
)

// Config неизменяемые параметры классификации, передаются в каждый вызов
type Config struct {
	Hz                   int     `json:"hz"`
	NSec                 float64 `json:"nsec"`
	BeatPropThreshold    float64 `json:"beat_prop_threshold"`
	AbnormalityThreshold float64 `json:"abnormality_threshold"`
	FileThreshold        float64 `json:"file_threshold"`

	// MissingPeaksAbnormal считает сегмент без пиков или без оцененных ударов
	// аномальным вместо INDETERMINATE.
	MissingPeaksAbnormal bool `json:"missing_peaks_abnormal"`

	// Workers число горутин для обработки окон записи; 0 и 1 означают последовательный обход
	Workers int `json:"workers"`
}

// DefaultConfig возвращает параметры по умолчанию (Intellivue PLETH, 100 Гц)
func DefaultConfig() Config {
	return Config{
		Hz:                   100,
		NSec:                 10,
		BeatPropThreshold:    0.7,
		AbnormalityThreshold: 0.7,
		FileThreshold:        0.9,
	}
}

// WindowSize длина окна записи в отсчетах: floor(nsec * hz)
func (c Config) WindowSize() int {
	return int(math.Floor(c.NSec * float64(c.Hz)))
}

// Validate проверяет параметры сегментного уровня
func (c Config) Validate() error {
	if c.Hz <= 0 {
		return fmt.Errorf("%w: hz must be positive, got %d", ErrInvalidConfiguration, c.Hz)
	}
	if err := checkThreshold("beat_prop_threshold", c.BeatPropThreshold); err != nil {
		return err
	}
	if err := checkThreshold("abnormality_threshold", c.AbnormalityThreshold); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfiguration, c.Workers)
	}
	return nil
}

// ValidateRecording дополнительно проверяет окно и порог записи
func (c Config) ValidateRecording() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := checkThreshold("file_threshold", c.FileThreshold); err != nil {
		return err
	}
	if math.IsNaN(c.NSec) || c.WindowSize() <= 0 {
		return fmt.Errorf("%w: window of %.3fs at %d Hz is empty", ErrInvalidConfiguration, c.NSec, c.Hz)
	}
	return nil
}

func checkThreshold(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s must be within [0,1], got %v", ErrInvalidConfiguration, name, v)
	}
	return nil
}
