package models

import (
	"time"

	"github.com/google/uuid"

	"ppg-validator/internal/analytics"
)

// VerdictRecord сохраненный вердикт записи вместе со счетчиками голосования
type VerdictRecord struct {
	ID                 string                     `json:"id"`
	RecordingID        string                     `json:"recording_id"`
	Track              string                     `json:"track,omitempty"`
	Verdict            analytics.RecordingVerdict `json:"verdict"`
	AbnormalCount      int                        `json:"abnormal_count"`
	NormalCount        int                        `json:"normal_count"`
	IndeterminateCount int                        `json:"indeterminate_count"`
	Ratio              float64                    `json:"ratio"`
	FileThreshold      float64                    `json:"file_threshold"`
	Hz                 int                        `json:"hz"`
	NSec               float64                    `json:"nsec"`
	CreatedAt          time.Time                  `json:"created_at"`
}

// NewVerdictRecord собирает запись вердикта с новым идентификатором
func NewVerdictRecord(recordingID, track string, cfg analytics.Config, result analytics.RecordingResult) *VerdictRecord {
	return &VerdictRecord{
		ID:                 uuid.NewString(),
		RecordingID:        recordingID,
		Track:              track,
		Verdict:            result.Verdict,
		AbnormalCount:      result.AbnormalCount,
		NormalCount:        result.NormalCount,
		IndeterminateCount: result.IndeterminateCount,
		Ratio:              result.Ratio,
		FileThreshold:      cfg.FileThreshold,
		Hz:                 cfg.Hz,
		NSec:               cfg.NSec,
		CreatedAt:          time.Now().UTC(),
	}
}

// SegmentRequest тело POST /v1/segments/classify
type SegmentRequest struct {
	Samples              []float64 `json:"samples"`
	Hz                   *int      `json:"hz,omitempty"`
	BeatPropThreshold    *float64  `json:"beat_prop_threshold,omitempty"`
	AbnormalityThreshold *float64  `json:"abnormality_threshold,omitempty"`
	Preprocess           bool      `json:"preprocess,omitempty"`
}

// RecordingRequest тело POST /v1/recordings/classify и запроса по каналу
type RecordingRequest struct {
	RecordingID          string    `json:"recording_id,omitempty"`
	Samples              []float64 `json:"samples,omitempty"`
	Hz                   *int      `json:"hz,omitempty"`
	NSec                 *float64  `json:"nsec,omitempty"`
	BeatPropThreshold    *float64  `json:"beat_prop_threshold,omitempty"`
	AbnormalityThreshold *float64  `json:"abnormality_threshold,omitempty"`
	FileThreshold        *float64  `json:"file_threshold,omitempty"`
	IncludeWindows       bool      `json:"include_windows,omitempty"`
}

// Apply накладывает переопределения запроса на базовую конфигурацию
func (r RecordingRequest) Apply(cfg analytics.Config) analytics.Config {
	if r.Hz != nil {
		cfg.Hz = *r.Hz
	}
	if r.NSec != nil {
		cfg.NSec = *r.NSec
	}
	if r.BeatPropThreshold != nil {
		cfg.BeatPropThreshold = *r.BeatPropThreshold
	}
	if r.AbnormalityThreshold != nil {
		cfg.AbnormalityThreshold = *r.AbnormalityThreshold
	}
	if r.FileThreshold != nil {
		cfg.FileThreshold = *r.FileThreshold
	}
	return cfg
}

// Apply накладывает переопределения запроса сегмента
func (r SegmentRequest) Apply(cfg analytics.Config) analytics.Config {
	if r.Hz != nil {
		cfg.Hz = *r.Hz
	}
	if r.BeatPropThreshold != nil {
		cfg.BeatPropThreshold = *r.BeatPropThreshold
	}
	if r.AbnormalityThreshold != nil {
		cfg.AbnormalityThreshold = *r.AbnormalityThreshold
	}
	return cfg
}

// RecordingResponse ответ классификации записи
type RecordingResponse struct {
	VerdictID   string                    `json:"verdict_id"`
	RecordingID string                    `json:"recording_id"`
	Track       string                    `json:"track,omitempty"`
	Result      analytics.RecordingResult `json:"result"`
}

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error string `json:"error"`
}
