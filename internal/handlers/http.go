package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"ppg-validator/internal/analytics"
	"ppg-validator/internal/cache"
	"ppg-validator/internal/events"
	"ppg-validator/internal/metrics"
	"ppg-validator/internal/models"
	"ppg-validator/internal/source"
	"ppg-validator/internal/store"
)

const (
	// maxUploadBytes ограничение размера загружаемого CSV
	maxUploadBytes = 64 << 20
	// maxJSONBytes ограничение размера JSON тела запроса
	maxJSONBytes = 32 << 20
)

// VerdictCache кэш последних вердиктов (Redis)
type VerdictCache interface {
	StoreVerdict(ctx context.Context, rec *models.VerdictRecord) error
	GetVerdict(ctx context.Context, recordingID string) (*models.VerdictRecord, error)
	GetRecentAbnormal(ctx context.Context, limit int) ([]string, error)
	Ping(ctx context.Context) error
	GetStats() map[string]interface{}
}

// VerdictStore история вердиктов (SQLite)
type VerdictStore interface {
	SaveVerdict(ctx context.Context, rec *models.VerdictRecord) error
	GetVerdict(ctx context.Context, id string) (*models.VerdictRecord, error)
	ListVerdicts(ctx context.Context, recordingID string, limit int) ([]*models.VerdictRecord, error)
	Ping(ctx context.Context) error
}

// WaveformSource источник записей по идентификатору и каналу
type WaveformSource interface {
	Load(recordingID, track string, hz int) ([]float64, error)
}

// Handler обработчик HTTP запросов
type Handler struct {
	validator    *analytics.Validator
	pre          analytics.Preprocessor
	cache        VerdictCache
	store        VerdictStore
	source       WaveformSource
	publisher    events.Publisher
	defaultTrack string
}

// NewHandler создает новый обработчик
func NewHandler(
	validator *analytics.Validator,
	pre analytics.Preprocessor,
	cache VerdictCache,
	store VerdictStore,
	source WaveformSource,
	publisher events.Publisher,
	defaultTrack string,
) *Handler {
	return &Handler{
		validator:    validator,
		pre:          pre,
		cache:        cache,
		store:        store,
		source:       source,
		publisher:    publisher,
		defaultTrack: defaultTrack,
	}
}

// Routes регистрирует маршруты API
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/v1/segments/classify", h.ClassifySegment).Methods(http.MethodPost)
	r.HandleFunc("/v1/recordings/classify", h.ClassifyRecording).Methods(http.MethodPost)
	r.HandleFunc("/v1/recordings/{id}/classify", h.ClassifyTrack).Methods(http.MethodPost)
	r.HandleFunc("/v1/recordings/{id}/csv", h.ClassifyCSV).Methods(http.MethodPost)
	r.HandleFunc("/v1/recordings/{id}/tracks/{track}/classify", h.ClassifyTrack).Methods(http.MethodPost)
	r.HandleFunc("/v1/recordings/{id}", h.GetRecording).Methods(http.MethodGet)
	r.HandleFunc("/v1/recordings/{id}/history", h.GetHistory).Methods(http.MethodGet)
	r.HandleFunc("/v1/verdicts/{id}", h.GetVerdict).Methods(http.MethodGet)
	r.HandleFunc("/v1/abnormal", h.GetAbnormal).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
}

// ClassifySegment обрабатывает POST /v1/segments/classify
func (h *Handler) ClassifySegment(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/segments/classify"
	defer observe(r, endpoint, time.Now())

	var req models.SegmentRequest
	if status, err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, endpoint, status, err.Error())
		return
	}
	if len(req.Samples) == 0 {
		respondError(w, r, endpoint, http.StatusBadRequest, "samples are required")
		return
	}

	cfg := req.Apply(h.validator.Config())
	if err := cfg.Validate(); err != nil {
		respondError(w, r, endpoint, http.StatusBadRequest, err.Error())
		return
	}

	segment := req.Samples
	if req.Preprocess {
		clean, err := h.pre.Preprocess(segment, cfg.Hz)
		if err != nil {
			metrics.SegmentsClassified.WithLabelValues(analytics.VerdictIndeterminate.String()).Inc()
			respond(w, r, endpoint, http.StatusOK, analytics.SegmentResult{
				Verdict: analytics.VerdictIndeterminate,
				Reason:  analytics.ReasonPreprocessFailed + ": " + err.Error(),
			})
			return
		}
		segment = clean
	}

	result, err := h.validator.ClassifySegment(segment, cfg)
	if err != nil {
		respondError(w, r, endpoint, http.StatusBadRequest, err.Error())
		return
	}

	metrics.SegmentsClassified.WithLabelValues(result.Verdict.String()).Inc()
	for _, score := range result.BeatScores {
		metrics.BeatScore.Observe(score)
	}

	respond(w, r, endpoint, http.StatusOK, result)
}

// ClassifyRecording обрабатывает POST /v1/recordings/classify
func (h *Handler) ClassifyRecording(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/recordings/classify"
	defer observe(r, endpoint, time.Now())

	var req models.RecordingRequest
	if status, err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, endpoint, status, err.Error())
		return
	}
	if len(req.Samples) == 0 {
		respondError(w, r, endpoint, http.StatusBadRequest, "samples are required")
		return
	}

	recordingID := req.RecordingID
	if recordingID == "" {
		recordingID = uuid.NewString()
	}

	h.classifyAndRecord(w, r, endpoint, recordingID, "", req.Samples, req)
}

// ClassifyTrack обрабатывает POST /v1/recordings/{id}/tracks/{track}/classify
func (h *Handler) ClassifyTrack(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/recordings/{id}/tracks/{track}/classify"
	defer observe(r, endpoint, time.Now())

	vars := mux.Vars(r)
	recordingID := vars["id"]
	track := vars["track"]
	if track == "" {
		track = h.defaultTrack
	}

	var req models.RecordingRequest
	if status, err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, endpoint, status, err.Error())
		return
	}

	cfg := req.Apply(h.validator.Config())
	if cfg.Hz <= 0 {
		respondError(w, r, endpoint, http.StatusBadRequest, "hz must be positive")
		return
	}

	samples, err := h.source.Load(recordingID, track, cfg.Hz)
	if err != nil {
		switch {
		case errors.Is(err, source.ErrRecordingNotFound), errors.Is(err, source.ErrTrackNotFound):
			respondError(w, r, endpoint, http.StatusNotFound, err.Error())
		case errors.Is(err, source.ErrInvalidRecordingID):
			respondError(w, r, endpoint, http.StatusBadRequest, err.Error())
		case errors.Is(err, source.ErrEmptyRecording):
			respondError(w, r, endpoint, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, source.ErrRecordingTooLong):
			respondError(w, r, endpoint, http.StatusRequestEntityTooLarge, err.Error())
		default:
			log.Printf("Failed to load recording %s/%s: %v", recordingID, track, err)
			respondError(w, r, endpoint, http.StatusInternalServerError, "Failed to load recording")
		}
		return
	}

	h.classifyAndRecord(w, r, endpoint, recordingID, track, samples, req)
}

// ClassifyCSV обрабатывает POST /v1/recordings/{id}/csv: тело запроса - CSV файл записи
func (h *Handler) ClassifyCSV(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/recordings/{id}/csv"
	defer observe(r, endpoint, time.Now())

	query := r.URL.Query()
	track := query.Get("track")
	if track == "" {
		track = h.defaultTrack
	}

	req := models.RecordingRequest{IncludeWindows: query.Get("windows") == "true"}
	if hz := queryInt(r, "hz", 0); hz > 0 {
		req.Hz = &hz
	}
	cfg := req.Apply(h.validator.Config())

	samples, err := source.ParseCSV(http.MaxBytesReader(w, r.Body, maxUploadBytes), track, cfg.Hz)
	if err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, source.ErrEmptyRecording):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, source.ErrRecordingTooLong), errors.As(err, &tooLarge):
			status = http.StatusRequestEntityTooLarge
		}
		respondError(w, r, endpoint, status, err.Error())
		return
	}

	h.classifyAndRecord(w, r, endpoint, mux.Vars(r)["id"], track, samples, req)
}

func (h *Handler) classifyAndRecord(w http.ResponseWriter, r *http.Request, endpoint, recordingID, track string, samples []float64, req models.RecordingRequest) {
	ctx := r.Context()
	cfg := req.Apply(h.validator.Config())

	start := time.Now()
	result, err := h.validator.ClassifyRecording(samples, cfg)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidConfiguration) {
			respondError(w, r, endpoint, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("Classification of %s failed: %v", recordingID, err)
		respondError(w, r, endpoint, http.StatusInternalServerError, "Classification failed")
		return
	}
	took := time.Since(start)

	metrics.ClassificationLatency.Observe(took.Seconds())
	metrics.RecordingsClassified.WithLabelValues(result.Verdict.String()).Inc()
	metrics.RecordingAbnormalRatio.Set(result.Ratio)
	for _, win := range result.Windows {
		metrics.SegmentsClassified.WithLabelValues(win.Verdict.String()).Inc()
	}

	rec := models.NewVerdictRecord(recordingID, track, cfg, result)

	err = h.store.SaveVerdict(ctx, rec)
	metrics.StoreOperations.WithLabelValues("save_verdict", metrics.Status(err)).Inc()
	if err != nil {
		log.Printf("Failed to store verdict for %s: %v", recordingID, err)
	}

	err = h.cache.StoreVerdict(ctx, rec)
	metrics.RedisOperations.WithLabelValues("store_verdict", metrics.Status(err)).Inc()
	if err != nil {
		log.Printf("Failed to cache verdict for %s: %v", recordingID, err)
	}

	err = h.publisher.Publish(ctx, events.NewSummary(rec.ID, recordingID, track, result, took))
	metrics.EventsPublished.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		log.Printf("Failed to publish summary for %s: %v", recordingID, err)
	}

	if !req.IncludeWindows {
		result.Windows = nil
	}

	respond(w, r, endpoint, http.StatusOK, models.RecordingResponse{
		VerdictID:   rec.ID,
		RecordingID: recordingID,
		Track:       track,
		Result:      result,
	})
}

// GetRecording обрабатывает GET /v1/recordings/{id}: сначала кэш, затем история
func (h *Handler) GetRecording(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/recordings/{id}"
	defer observe(r, endpoint, time.Now())

	recordingID := mux.Vars(r)["id"]

	rec, err := h.cache.GetVerdict(r.Context(), recordingID)
	switch {
	case err == nil:
		metrics.RedisOperations.WithLabelValues("get_verdict", "hit").Inc()
		respond(w, r, endpoint, http.StatusOK, rec)
		return
	case errors.Is(err, cache.ErrCacheMiss):
		metrics.RedisOperations.WithLabelValues("get_verdict", "miss").Inc()
	default:
		metrics.RedisOperations.WithLabelValues("get_verdict", "error").Inc()
		log.Printf("Failed to read cached verdict for %s: %v", recordingID, err)
	}

	history, err := h.store.ListVerdicts(r.Context(), recordingID, 1)
	metrics.StoreOperations.WithLabelValues("list_verdicts", metrics.Status(err)).Inc()
	if err != nil {
		respondError(w, r, endpoint, http.StatusInternalServerError, "Failed to retrieve verdict")
		return
	}
	if len(history) == 0 {
		respondError(w, r, endpoint, http.StatusNotFound, "recording has no verdict")
		return
	}

	respond(w, r, endpoint, http.StatusOK, history[0])
}

// GetHistory обрабатывает GET /v1/recordings/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/recordings/{id}/history"
	defer observe(r, endpoint, time.Now())

	recordingID := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", 20)

	history, err := h.store.ListVerdicts(r.Context(), recordingID, limit)
	metrics.StoreOperations.WithLabelValues("list_verdicts", metrics.Status(err)).Inc()
	if err != nil {
		respondError(w, r, endpoint, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	respond(w, r, endpoint, http.StatusOK, map[string]interface{}{
		"recording_id": recordingID,
		"count":        len(history),
		"verdicts":     history,
	})
}

// GetVerdict обрабатывает GET /v1/verdicts/{id}
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/verdicts/{id}"
	defer observe(r, endpoint, time.Now())

	rec, err := h.store.GetVerdict(r.Context(), mux.Vars(r)["id"])
	metrics.StoreOperations.WithLabelValues("get_verdict", metrics.Status(err)).Inc()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, r, endpoint, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, r, endpoint, http.StatusInternalServerError, "Failed to retrieve verdict")
		return
	}

	respond(w, r, endpoint, http.StatusOK, rec)
}

// GetAbnormal обрабатывает GET /v1/abnormal
func (h *Handler) GetAbnormal(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/abnormal"
	defer observe(r, endpoint, time.Now())

	ids, err := h.cache.GetRecentAbnormal(r.Context(), queryInt(r, "limit", 10))
	metrics.RedisOperations.WithLabelValues("get_abnormal", metrics.Status(err)).Inc()
	if err != nil {
		respondError(w, r, endpoint, http.StatusInternalServerError, "Failed to retrieve abnormal recordings")
		return
	}

	respond(w, r, endpoint, http.StatusOK, map[string]interface{}{
		"count":      len(ids),
		"recordings": ids,
	})
}

// HealthCheck обрабатывает GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	redisOK := h.cache.Ping(r.Context()) == nil
	storeOK := h.store.Ping(r.Context()) == nil

	status := "healthy"
	httpStatus := http.StatusOK

	if !redisOK || !storeOK {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"redis":     redisOK,
		"store":     storeOK,
		"timestamp": time.Now(),
	})
}

// GetStats обрабатывает GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/stats"
	defer observe(r, endpoint, time.Now())

	respond(w, r, endpoint, http.StatusOK, map[string]interface{}{
		"validator": h.validator.GetStats(),
		"redis":     h.cache.GetStats(),
		"timestamp": time.Now(),
	})
}

func observe(r *http.Request, endpoint string, start time.Time) {
	metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
}

func respond(w http.ResponseWriter, r *http.Request, endpoint string, status int, body interface{}) {
	metrics.RequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
	writeJSON(w, status, body)
}

func respondError(w http.ResponseWriter, r *http.Request, endpoint string, status int, message string) {
	respond(w, r, endpoint, status, models.ErrorResponse{Error: message})
}

// decodeJSON читает тело не длиннее maxJSONBytes; возвращает HTTP статус для ошибки
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) (int, error) {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes)).Decode(v)
	if err == nil {
		return http.StatusOK, nil
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
	}
	if errors.Is(err, io.EOF) {
		return http.StatusBadRequest, err
	}
	return http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
