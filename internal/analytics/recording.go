package analytics

import (
	"errors"
	"fmt"
	"sync"
)

// Preprocessor внешняя предобработка окна: интерполяция пропусков, фильтр, сглаживание
type Preprocessor interface {
	Preprocess(raw []float64, hz int) ([]float64, error)
}

// PreprocessorFunc адаптер функции к Preprocessor
type PreprocessorFunc func(raw []float64, hz int) ([]float64, error)

func (f PreprocessorFunc) Preprocess(raw []float64, hz int) ([]float64, error) {
	return f(raw, hz)
}

// SegmentFunc классификатор одного очищенного окна
type SegmentFunc func(segment []float64) (SegmentResult, error)

// ReasonPreprocessFailed причина INDETERMINATE при сбое предобработки
const ReasonPreprocessFailed = "preprocessing failed"

// WindowResult вердикт одного окна записи
type WindowResult struct {
	Index   int     `json:"index"`
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Verdict Verdict `json:"verdict"`
	Beats   int     `json:"beats"`
	Ratio   float64 `json:"ratio"`
	Reason  string  `json:"reason,omitempty"`
}

// RecordingResult результат классификации записи
type RecordingResult struct {
	Verdict            RecordingVerdict `json:"verdict"`
	WindowSize         int              `json:"window_size"`
	AbnormalCount      int              `json:"abnormal_count"`
	NormalCount        int              `json:"normal_count"`
	IndeterminateCount int              `json:"indeterminate_count"`
	Ratio              float64          `json:"ratio"`
	Windows            []WindowResult   `json:"windows,omitempty"`
}

// Valid число окон с определенным вердиктом
func (r RecordingResult) Valid() int {
	return r.AbnormalCount + r.NormalCount
}

// Summary человекочитаемая сводка по записи
func (r RecordingResult) Summary() string {
	return fmt.Sprintf("verdict=%s windows=%d abnormal=%d normal=%d indeterminate=%d ratio=%.3f",
		r.Verdict, len(r.Windows), r.AbnormalCount, r.NormalCount, r.IndeterminateCount, r.Ratio)
}

// ClassifyRecording обходит запись неперекрывающимися окнами floor(nsec*hz),
// отбрасывая неполный хвост, и голосует по вердиктам окон.
func ClassifyRecording(samples []float64, pre Preprocessor, classify SegmentFunc, cfg Config) (RecordingResult, error) {
	if err := cfg.ValidateRecording(); err != nil {
		return RecordingResult{}, err
	}

	w := cfg.WindowSize()
	count := len(samples) / w
	windows := make([]WindowResult, count)
	errs := make([]error, count)

	process := func(i int) {
		start := i * w
		windows[i], errs[i] = classifyWindow(samples[start:start+w], i, start, pre, classify, cfg.Hz)
	}

	if cfg.Workers > 1 && count > 1 {
		runWorkers(cfg.Workers, count, process)
	} else {
		for i := 0; i < count; i++ {
			process(i)
		}
	}

	for _, err := range errs {
		if err != nil {
			return RecordingResult{}, err
		}
	}

	return aggregate(windows, w, cfg.FileThreshold), nil
}

func classifyWindow(raw []float64, index, start int, pre Preprocessor, classify SegmentFunc, hz int) (WindowResult, error) {
	result := WindowResult{Index: index, Start: start, End: start + len(raw)}

	clean, err := pre.Preprocess(raw, hz)
	if err != nil {
		result.Reason = fmt.Sprintf("%s: %v", ReasonPreprocessFailed, err)
		return result, nil
	}

	seg, err := classify(clean)
	if errors.Is(err, ErrInvalidConfiguration) {
		return result, err
	}
	if err != nil {
		result.Reason = err.Error()
		return result, nil
	}

	result.Verdict = seg.Verdict
	result.Beats = seg.Beats
	result.Ratio = seg.Ratio
	result.Reason = seg.Reason
	return result, nil
}

// runWorkers раздает номера окон пулу не более чем из count горутин; результаты пишутся по индексу
func runWorkers(workers, count int, process func(int)) {
	jobs := make(chan int, count)
	for i := 0; i < count; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for n := 0; n < poolSize(workers, count); n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				process(i)
			}
		}()
	}
	wg.Wait()
}

// poolSize число горутин: лишние воркеры сверх числа окон не запускаются
func poolSize(workers, count int) int {
	return min(workers, count)
}

// aggregate сводит вердикты окон; INDETERMINATE не входит ни в один счетчик
func aggregate(windows []WindowResult, windowSize int, fileThreshold float64) RecordingResult {
	result := RecordingResult{WindowSize: windowSize, Windows: windows}

	for _, w := range windows {
		switch w.Verdict {
		case VerdictAbnormal:
			result.AbnormalCount++
		case VerdictNormal:
			result.NormalCount++
		default:
			result.IndeterminateCount++
		}
	}

	total := result.Valid()
	if total == 0 {
		result.Verdict = RecordingInvalid
		return result
	}

	result.Ratio = float64(result.AbnormalCount) / float64(total)
	if result.Ratio >= fileThreshold {
		result.Verdict = RecordingAbnormal
	} else {
		result.Verdict = RecordingNormal
	}
	return result
}
