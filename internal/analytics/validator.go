package analytics

import (
	"sync/atomic"
)

// Validator связывает конфигурацию с детектором пиков и предобработкой.
// Сам по себе не хранит состояния между вызовами, кроме счетчиков статистики.
type Validator struct {
	cfg      Config
	detector PeakDetector
	pre      Preprocessor

	segments   atomic.Int64
	recordings atomic.Int64
	abnormal   atomic.Int64
}

// NewValidator создает валидатор; конфигурация проверяется сразу
func NewValidator(cfg Config, detector PeakDetector, pre Preprocessor) (*Validator, error) {
	if err := cfg.ValidateRecording(); err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg, detector: detector, pre: pre}, nil
}

// Config возвращает копию конфигурации валидатора
func (v *Validator) Config() Config {
	return v.cfg
}

// ClassifySegment классифицирует уже очищенный сегмент с параметрами cfg
func (v *Validator) ClassifySegment(segment []float64, cfg Config) (SegmentResult, error) {
	result, err := ClassifySegment(segment, v.detector, cfg)
	if err == nil {
		v.segments.Add(1)
	}
	return result, err
}

// ClassifyRecording классифицирует сырую запись: окна, предобработка, голосование
func (v *Validator) ClassifyRecording(samples []float64, cfg Config) (RecordingResult, error) {
	classify := func(segment []float64) (SegmentResult, error) {
		return v.ClassifySegment(segment, cfg)
	}

	result, err := ClassifyRecording(samples, v.pre, classify, cfg)
	if err != nil {
		return result, err
	}

	v.recordings.Add(1)
	if result.Verdict == RecordingAbnormal {
		v.abnormal.Add(1)
	}
	return result, nil
}

// GetStats возвращает статистику валидатора
func (v *Validator) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"segments_classified":   v.segments.Load(),
		"recordings_classified": v.recordings.Load(),
		"recordings_abnormal":   v.abnormal.Load(),
		"hz":                    v.cfg.Hz,
		"window_size":           v.cfg.WindowSize(),
		"workers":               v.cfg.Workers,
	}
}
