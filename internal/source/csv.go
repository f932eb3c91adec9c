package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrRecordingNotFound файла записи нет в каталоге
	ErrRecordingNotFound = errors.New("recording not found")
	// ErrTrackNotFound в файле нет запрошенного канала
	ErrTrackNotFound = errors.New("track not found")
	// ErrEmptyRecording в файле нет строк с данными
	ErrEmptyRecording = errors.New("recording has no samples")
	// ErrInvalidRecordingID идентификатор содержит разделители пути
	ErrInvalidRecordingID = errors.New("invalid recording id")
	// ErrRecordingTooLong сетка 1/hz длиннее MaxSamples отсчетов
	ErrRecordingTooLong = errors.New("recording too long")
)

// MaxSamples предельная длина записи после приведения к частоте hz (сутки при 194 Гц)
const MaxSamples = 1 << 24

// CSVSource читает записи <Dir>/<recordingID>.csv
type CSVSource struct {
	Dir string
}

// NewCSVSource создает источник записей из каталога
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

// Load загружает канал track записи и приводит его к частоте hz
func (s *CSVSource) Load(recordingID, track string, hz int) ([]float64, error) {
	if recordingID == "" || recordingID != filepath.Base(recordingID) || strings.HasPrefix(recordingID, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecordingID, recordingID)
	}

	path := filepath.Join(s.Dir, recordingID+".csv")
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRecordingNotFound, recordingID)
		}
		return nil, fmt.Errorf("failed to open recording %s: %w", recordingID, err)
	}
	defer file.Close()

	samples, err := ParseCSV(file, track, hz)
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", recordingID, err)
	}
	return samples, nil
}

// ParseCSV разбирает CSV с заголовком. Первая колонка - время в секундах,
// остальные - каналы; файл из одной колонки считается уже записанным с частотой hz.
// Пустые ячейки и пропущенные слоты сетки становятся NaN.
func ParseCSV(r io.Reader, track string, hz int) ([]float64, error) {
	if hz <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", hz)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV data: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrEmptyRecording
	}

	header := records[0]
	if len(header) == 1 {
		return parseValues(records[1:])
	}

	col, err := trackColumn(header, track)
	if err != nil {
		return nil, err
	}

	times := make([]float64, 0, len(records)-1)
	values := make([]float64, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) <= col {
			return nil, fmt.Errorf("invalid record at line %d: expected at least %d columns", i+2, col+1)
		}

		ts, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid time format at line %d: %w", i+2, err)
		}
		if math.IsNaN(ts) || math.IsInf(ts, 0) {
			return nil, fmt.Errorf("invalid time at line %d: %v is not finite", i+2, ts)
		}

		value, err := parseCell(record[col])
		if err != nil {
			return nil, fmt.Errorf("invalid value format at line %d: %w", i+2, err)
		}

		times = append(times, ts)
		values = append(values, value)
	}

	return resample(times, values, hz)
}

func trackColumn(header []string, track string) (int, error) {
	if track == "" {
		return 1, nil
	}
	for i, name := range header[1:] {
		if strings.EqualFold(strings.TrimSpace(name), track) {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrTrackNotFound, track)
}

func parseValues(records [][]string) ([]float64, error) {
	out := make([]float64, 0, len(records))
	for i, record := range records {
		value, err := parseCell(record[0])
		if err != nil {
			return nil, fmt.Errorf("invalid value format at line %d: %w", i+2, err)
		}
		out = append(out, value)
	}
	if len(out) > MaxSamples {
		return nil, fmt.Errorf("%w: %d samples, limit %d", ErrRecordingTooLong, len(out), MaxSamples)
	}
	return out, nil
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}

// resample раскладывает отсчеты по сетке шага 1/hz от первой метки времени
func resample(times, values []float64, hz int) ([]float64, error) {
	t0, t1 := times[0], times[0]
	for _, ts := range times {
		t0 = math.Min(t0, ts)
		t1 = math.Max(t1, ts)
	}

	span := math.Round((t1 - t0) * float64(hz))
	if math.IsInf(span, 0) || span >= MaxSamples {
		return nil, fmt.Errorf("%w: %.0f s at %d Hz exceeds %d samples", ErrRecordingTooLong, t1-t0, hz, MaxSamples)
	}

	n := int(span) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	for i, ts := range times {
		if math.IsNaN(values[i]) {
			continue
		}
		idx := int(math.Round((ts - t0) * float64(hz)))
		if idx >= 0 && idx < n {
			out[idx] = values[i]
		}
	}
	return out, nil
}
