package analytics

// Beat полуоткрытый интервал [Start, End) одного удара внутри сегмента:
// спад от систолического пика до следующего диастолического минимума.
type Beat struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len длина удара в отсчетах
func (b Beat) Len() int {
	return b.End - b.Start
}

// minBeatSamples минимальная длина, на которой определен градиент
const minBeatSamples = 2

// SegmentBeats нарезает сегмент длины n на удары по спискам минимумов и максимумов.
// Первый максимум отбрасывается, удар j равен [maxima[j+1], minima[j+1]).
func SegmentBeats(n int, minima, maxima []int) []Beat {
	if len(minima) == 0 || len(maxima) == 0 {
		return nil
	}

	aligned := maxima[1:]
	pairs := len(minima) - 1
	if len(aligned) < pairs {
		pairs = len(aligned)
	}

	beats := make([]Beat, 0, pairs)
	for j := 0; j < pairs; j++ {
		start := clampIndex(aligned[j], n)
		end := clampIndex(minima[j+1], n)
		if end-start < minBeatSamples {
			continue
		}
		beats = append(beats, Beat{Start: start, End: end})
	}

	return beats
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
