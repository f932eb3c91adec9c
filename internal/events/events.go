// Package events публикует сводку по каждой классифицированной записи
// отдельно от возвращаемого вердикта.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"ppg-validator/internal/analytics"
)

// DefaultSubject тема NATS для сводок по записям
const DefaultSubject = "ppg.verdicts"

// Summary структурированное событие о классификации записи
type Summary struct {
	VerdictID          string                     `json:"verdict_id,omitempty"`
	RecordingID        string                     `json:"recording_id"`
	Track              string                     `json:"track,omitempty"`
	Verdict            analytics.RecordingVerdict `json:"verdict"`
	Windows            int                        `json:"windows"`
	AbnormalCount      int                        `json:"abnormal_count"`
	NormalCount        int                        `json:"normal_count"`
	IndeterminateCount int                        `json:"indeterminate_count"`
	Ratio              float64                    `json:"ratio"`
	DurationMS         int64                      `json:"duration_ms"`
	Timestamp          time.Time                  `json:"timestamp"`
}

// NewSummary собирает событие из результата классификации
func NewSummary(verdictID, recordingID, track string, result analytics.RecordingResult, took time.Duration) Summary {
	return Summary{
		VerdictID:          verdictID,
		RecordingID:        recordingID,
		Track:              track,
		Verdict:            result.Verdict,
		Windows:            len(result.Windows),
		AbnormalCount:      result.AbnormalCount,
		NormalCount:        result.NormalCount,
		IndeterminateCount: result.IndeterminateCount,
		Ratio:              result.Ratio,
		DurationMS:         took.Milliseconds(),
		Timestamp:          time.Now().UTC(),
	}
}

// Publisher получатель сводок
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
}

// LogPublisher пишет сводку одной строкой в лог
type LogPublisher struct {
	Logf func(format string, v ...interface{})
}

func (p *LogPublisher) Publish(ctx context.Context, s Summary) error {
	logf := p.Logf
	if logf == nil {
		logf = log.Printf
	}
	logf("[VERDICT] recording=%s track=%s verdict=%s windows=%d abnormal=%d normal=%d indeterminate=%d ratio=%.3f took_ms=%d",
		s.RecordingID,
		s.Track,
		s.Verdict,
		s.Windows,
		s.AbnormalCount,
		s.NormalCount,
		s.IndeterminateCount,
		s.Ratio,
		s.DurationMS)
	return nil
}

// Connect подключается к NATS с бесконечным переподключением
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("ppg-validator"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

// NATSPublisher публикует сводки в NATS в виде JSON
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher создает публикатор в тему subject
func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Publish(ctx context.Context, s Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish summary: %w", err)
	}
	return nil
}

// MultiPublisher рассылает сводку всем получателям и собирает ошибки
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, s Summary) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
