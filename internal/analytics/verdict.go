package analytics

import "fmt"

// Verdict вердикт уровня сегмента
type Verdict int

const (
	VerdictIndeterminate Verdict = iota
	VerdictNormal
	VerdictAbnormal
)

func (v Verdict) String() string {
	switch v {
	case VerdictNormal:
		return "NORMAL"
	case VerdictAbnormal:
		return "ABNORMAL"
	default:
		return "INDETERMINATE"
	}
}

// MarshalText сериализует вердикт в JSON как строку
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText разбирает строковое представление вердикта
func (v *Verdict) UnmarshalText(text []byte) error {
	switch string(text) {
	case "NORMAL":
		*v = VerdictNormal
	case "ABNORMAL":
		*v = VerdictAbnormal
	case "INDETERMINATE":
		*v = VerdictIndeterminate
	default:
		return fmt.Errorf("unknown segment verdict %q", text)
	}
	return nil
}

// RecordingVerdict итоговый вердикт по всей записи
type RecordingVerdict int

const (
	RecordingInvalid RecordingVerdict = iota
	RecordingNormal
	RecordingAbnormal
)

func (v RecordingVerdict) String() string {
	switch v {
	case RecordingNormal:
		return "NORMAL"
	case RecordingAbnormal:
		return "ABNORMAL"
	default:
		return "INVALID"
	}
}

// MarshalText сериализует вердикт записи в JSON как строку
func (v RecordingVerdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText разбирает строковое представление вердикта записи
func (v *RecordingVerdict) UnmarshalText(text []byte) error {
	parsed, err := ParseRecordingVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseRecordingVerdict разбирает вердикт записи, сохраненный в хранилище
func ParseRecordingVerdict(s string) (RecordingVerdict, error) {
	switch s {
	case "NORMAL":
		return RecordingNormal, nil
	case "ABNORMAL":
		return RecordingAbnormal, nil
	case "INVALID":
		return RecordingInvalid, nil
	}
	return RecordingInvalid, fmt.Errorf("unknown recording verdict %q", s)
}
