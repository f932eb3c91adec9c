package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration продолжительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// SegmentsClassified вердикты сегментов
	SegmentsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppg_segments_classified_total",
			Help: "Total number of classified segments by verdict",
		},
		[]string{"verdict"},
	)

	// RecordingsClassified вердикты записей
	RecordingsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppg_recordings_classified_total",
			Help: "Total number of classified recordings by verdict",
		},
		[]string{"verdict"},
	)

	// BeatScore распределение доли возрастающего градиента
	BeatScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ppg_beat_score",
			Help:    "Increasing-gradient proportion of scored beats",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// ClassificationLatency задержка классификации записи
	ClassificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ppg_classification_latency_seconds",
			Help:    "Recording classification latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// RecordingAbnormalRatio доля аномальных окон последней записи
	RecordingAbnormalRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ppg_last_recording_abnormal_ratio",
			Help: "Abnormal window ratio of the most recently classified recording",
		},
	)

	// RedisOperations операции с Redis
	RedisOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	// StoreOperations операции с историей вердиктов
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of verdict store operations",
		},
		[]string{"operation", "status"},
	)

	// EventsPublished публикации сводок
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppg_events_published_total",
			Help: "Total number of recording summaries published",
		},
		[]string{"status"},
	)
)

// Status метка результата операции
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
