package analytics

import (
	"errors"
	"fmt"
)

// PeakDetector внешний детектор пиков: возвращает индексы минимумов и максимумов
type PeakDetector interface {
	DetectPeaks(segment []float64, hz int) (minima, maxima []int, err error)
}

// PeakDetectorFunc адаптер функции к PeakDetector
type PeakDetectorFunc func(segment []float64, hz int) ([]int, []int, error)

func (f PeakDetectorFunc) DetectPeaks(segment []float64, hz int) ([]int, []int, error) {
	return f(segment, hz)
}

// Причины вырожденного вердикта сегмента
const (
	ReasonDetectionFailed = "peak detection failed"
	ReasonNoPeaks         = "no peaks detected"
	ReasonNoBeats         = "no scorable beats"
)

// SegmentResult результат классификации одного сегмента
type SegmentResult struct {
	Verdict       Verdict   `json:"verdict"`
	Beats         int       `json:"beats"`
	AbnormalBeats int       `json:"abnormal_beats"`
	Ratio         float64   `json:"ratio"`
	BeatScores    []float64 `json:"beat_scores,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// ClassifySegment классифицирует сегмент по долям возрастающего градиента ударов.
// Ошибка возвращается только для недопустимой конфигурации; сбои детектора
// и вырожденные удары понижают вердикт до INDETERMINATE.
func ClassifySegment(segment []float64, detector PeakDetector, cfg Config) (SegmentResult, error) {
	if err := cfg.Validate(); err != nil {
		return SegmentResult{}, err
	}

	minima, maxima, err := detector.DetectPeaks(segment, cfg.Hz)
	if err != nil {
		return degraded(cfg, fmt.Sprintf("%s: %v", ReasonDetectionFailed, err)), nil
	}
	if len(minima) == 0 || len(maxima) == 0 {
		return degraded(cfg, ReasonNoPeaks), nil
	}

	beats := SegmentBeats(len(segment), minima, maxima)
	scores := make([]float64, 0, len(beats))
	for _, beat := range beats {
		score, err := ScoreBeat(segment[beat.Start:beat.End])
		if errors.Is(err, ErrInvalidInput) {
			continue
		}
		if err != nil {
			return SegmentResult{}, err
		}
		scores = append(scores, score)
	}

	if len(scores) == 0 {
		return degraded(cfg, ReasonNoBeats), nil
	}

	abnormal, ratio, verdict := voteBeats(scores, cfg.BeatPropThreshold, cfg.AbnormalityThreshold)

	return SegmentResult{
		Verdict:       verdict,
		Beats:         len(scores),
		AbnormalBeats: abnormal,
		Ratio:         ratio,
		BeatScores:    scores,
	}, nil
}

// ScoreBeat считает долю возрастающего градиента для одного удара
func ScoreBeat(beat []float64) (float64, error) {
	grad, err := Gradient(beat)
	if err != nil {
		return 0, err
	}
	return IncreasingRunProportion(grad)
}

// voteBeats считает долю ударов с score >= beatThreshold и сравнивает ее с abnormalityThreshold
func voteBeats(scores []float64, beatThreshold, abnormalityThreshold float64) (int, float64, Verdict) {
	abnormal := 0
	for _, s := range scores {
		if s >= beatThreshold {
			abnormal++
		}
	}
	ratio := float64(abnormal) / float64(len(scores))

	if ratio >= abnormalityThreshold {
		return abnormal, ratio, VerdictAbnormal
	}
	return abnormal, ratio, VerdictNormal
}

func degraded(cfg Config, reason string) SegmentResult {
	verdict := VerdictIndeterminate
	if cfg.MissingPeaksAbnormal {
		verdict = VerdictAbnormal
	}
	return SegmentResult{Verdict: verdict, Reason: reason}
}
