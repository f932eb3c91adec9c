package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppg-validator/internal/analytics"
	"ppg-validator/internal/cache"
	"ppg-validator/internal/events"
	"ppg-validator/internal/models"
	"ppg-validator/internal/source"
	"ppg-validator/internal/store"
)

const (
	testHz     = 33
	beatLen    = 8
	beatsInWin = 4
)

type fakeCache struct {
	mu       sync.Mutex
	verdicts map[string]*models.VerdictRecord
	abnormal []string
	pingErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{verdicts: make(map[string]*models.VerdictRecord)}
}

func (c *fakeCache) StoreVerdict(_ context.Context, rec *models.VerdictRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verdicts[rec.RecordingID] = rec
	if rec.Verdict == analytics.RecordingAbnormal {
		c.abnormal = append(c.abnormal, rec.RecordingID)
	}
	return nil
}

func (c *fakeCache) GetVerdict(_ context.Context, recordingID string) (*models.VerdictRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.verdicts[recordingID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return rec, nil
}

func (c *fakeCache) GetRecentAbnormal(_ context.Context, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.abnormal) > limit {
		return c.abnormal[:limit], nil
	}
	return c.abnormal, nil
}

func (c *fakeCache) Ping(context.Context) error { return c.pingErr }

func (c *fakeCache) GetStats() map[string]interface{} {
	return map[string]interface{}{"addr": "fake"}
}

type fakeSource map[string][]float64

func (s fakeSource) Load(recordingID, track string, _ int) ([]float64, error) {
	switch recordingID {
	case "bad":
		return nil, source.ErrInvalidRecordingID
	case "huge":
		return nil, fmt.Errorf("recording huge: %w", source.ErrRecordingTooLong)
	}
	samples, ok := s[recordingID+"/"+track]
	if !ok {
		return nil, source.ErrRecordingNotFound
	}
	return samples, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	summaries []events.Summary
}

func (p *recordingPublisher) Publish(_ context.Context, s events.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, s)
	return nil
}

// pulseWindow окно из beatsInWin ударов с квадратичным фронтом
func pulseWindow() []float64 {
	window := []float64{0}
	for b := 0; b < beatsInWin; b++ {
		for i := 0; i < beatLen; i++ {
			window = append(window, float64(i*i))
		}
	}
	return window
}

func flatWindow() []float64 {
	window := make([]float64, testHz)
	for i := range window {
		window[i] = 5
	}
	return window
}

// markerDetector размечает окна pulseWindow и не находит пиков в остальных
func markerDetector() analytics.PeakDetector {
	return analytics.PeakDetectorFunc(func(segment []float64, _ int) ([]int, []int, error) {
		if segment[0] != 0 {
			return nil, nil, nil
		}
		minima := []int{0}
		maxima := []int{0}
		for b := 0; b < beatsInWin; b++ {
			maxima = append(maxima, 1+b*beatLen)
			minima = append(minima, 1+(b+1)*beatLen)
		}
		return minima, maxima, nil
	})
}

type testEnv struct {
	router    *mux.Router
	cache     *fakeCache
	store     *store.Store
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T, src fakeSource) *testEnv {
	t.Helper()

	cfg := analytics.DefaultConfig()
	cfg.Hz = testHz
	cfg.NSec = 1

	identity := analytics.PreprocessorFunc(func(raw []float64, _ int) ([]float64, error) {
		return raw, nil
	})

	validator, err := analytics.NewValidator(cfg, markerDetector(), identity)
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "verdicts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	env := &testEnv{
		router:    mux.NewRouter(),
		cache:     newFakeCache(),
		store:     st,
		publisher: &recordingPublisher{},
	}

	h := NewHandler(validator, identity, env.cache, st, src, env.publisher, "PLETH")
	h.Routes(env.router)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func concat(windows ...[]float64) []float64 {
	var out []float64
	for _, w := range windows {
		out = append(out, w...)
	}
	return out
}

func TestClassifySegment(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/segments/classify", models.SegmentRequest{Samples: pulseWindow()})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[analytics.SegmentResult](t, rec)
	assert.Equal(t, analytics.VerdictAbnormal, result.Verdict)
	assert.Equal(t, beatsInWin, result.Beats)
	assert.InDelta(t, 1.0, result.Ratio, 1e-12)
}

func TestClassifySegment_NoPeaks(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/segments/classify", models.SegmentRequest{Samples: flatWindow()})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[analytics.SegmentResult](t, rec)
	assert.Equal(t, analytics.VerdictIndeterminate, result.Verdict)
	assert.Equal(t, analytics.ReasonNoPeaks, result.Reason)
}

func TestClassifySegment_BadRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	threshold := 1.5
	tests := []struct {
		name string
		body interface{}
	}{
		{name: "no samples", body: models.SegmentRequest{}},
		{name: "threshold out of range", body: models.SegmentRequest{Samples: pulseWindow(), BeatPropThreshold: &threshold}},
		{name: "not json", body: "samples"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/segments/classify", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[models.ErrorResponse](t, rec).Error)
		})
	}
}

func TestClassifyRecording(t *testing.T) {
	env := newTestEnv(t, nil)

	body := models.RecordingRequest{
		RecordingID: "rec-1",
		Samples:     concat(pulseWindow(), pulseWindow(), flatWindow(), []float64{1, 2, 3}),
	}
	rec := env.do(t, http.MethodPost, "/v1/recordings/classify", body)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[models.RecordingResponse](t, rec)
	assert.Equal(t, "rec-1", resp.RecordingID)
	assert.NotEmpty(t, resp.VerdictID)
	assert.Equal(t, analytics.RecordingAbnormal, resp.Result.Verdict)
	assert.Equal(t, 2, resp.Result.AbnormalCount)
	assert.Equal(t, 0, resp.Result.NormalCount)
	assert.Equal(t, 1, resp.Result.IndeterminateCount)
	assert.InDelta(t, 1.0, resp.Result.Ratio, 1e-12)
	assert.Empty(t, resp.Result.Windows)

	stored, err := env.store.GetVerdict(context.Background(), resp.VerdictID)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", stored.RecordingID)
	assert.Equal(t, analytics.RecordingAbnormal, stored.Verdict)

	cached, err := env.cache.GetVerdict(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, resp.VerdictID, cached.ID)

	require.Len(t, env.publisher.summaries, 1)
	assert.Equal(t, 3, env.publisher.summaries[0].Windows)
}

func TestClassifyRecording_IncludeWindowsAndGeneratedID(t *testing.T) {
	env := newTestEnv(t, nil)

	body := models.RecordingRequest{
		Samples:        concat(flatWindow(), flatWindow()),
		IncludeWindows: true,
	}
	rec := env.do(t, http.MethodPost, "/v1/recordings/classify", body)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[models.RecordingResponse](t, rec)
	assert.NotEmpty(t, resp.RecordingID)
	assert.Equal(t, analytics.RecordingInvalid, resp.Result.Verdict)
	require.Len(t, resp.Result.Windows, 2)
	assert.Equal(t, testHz, resp.Result.Windows[1].Start)
}

func TestClassifyRecording_InvalidConfiguration(t *testing.T) {
	env := newTestEnv(t, nil)

	threshold := -0.1
	body := models.RecordingRequest{Samples: pulseWindow(), FileThreshold: &threshold}

	rec := env.do(t, http.MethodPost, "/v1/recordings/classify", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.publisher.summaries)
}

func TestClassifyTrack(t *testing.T) {
	src := fakeSource{
		"p001/PLETH": concat(pulseWindow(), flatWindow()),
		"p001/ECG":   concat(pulseWindow()),
	}
	env := newTestEnv(t, src)

	t.Run("explicit track", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/recordings/p001/tracks/ECG/classify", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[models.RecordingResponse](t, rec)
		assert.Equal(t, "ECG", resp.Track)
		assert.Equal(t, analytics.RecordingAbnormal, resp.Result.Verdict)
	})

	t.Run("default track", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/recordings/p001/classify", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[models.RecordingResponse](t, rec)
		assert.Equal(t, "PLETH", resp.Track)
		assert.Equal(t, 1, resp.Result.IndeterminateCount)
	})

	t.Run("not found", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/recordings/p999/tracks/PLETH/classify", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/recordings/bad/classify", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too long", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/recordings/huge/classify", nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestGetRecording(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	cached := &models.VerdictRecord{ID: "v-cached", RecordingID: "cached", Verdict: analytics.RecordingNormal}
	require.NoError(t, env.cache.StoreVerdict(ctx, cached))

	stored := &models.VerdictRecord{RecordingID: "stored", Verdict: analytics.RecordingAbnormal}
	require.NoError(t, env.store.SaveVerdict(ctx, stored))

	rec := env.do(t, http.MethodGet, "/v1/recordings/cached", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v-cached", decode[models.VerdictRecord](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/v1/recordings/stored", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.VerdictRecord](t, rec)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, analytics.RecordingAbnormal, got.Verdict)

	rec = env.do(t, http.MethodGet, "/v1/recordings/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHistoryAndVerdict(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/v1/recordings/classify", models.RecordingRequest{
			RecordingID: "rec-h",
			Samples:     pulseWindow(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/recordings/rec-h/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var history struct {
		Count    int                     `json:"count"`
		Verdicts []*models.VerdictRecord `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, 2, history.Count)
	require.Len(t, history.Verdicts, 2)

	rec = env.do(t, http.MethodGet, "/v1/verdicts/"+history.Verdicts[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rec-h", decode[models.VerdictRecord](t, rec).RecordingID)

	rec = env.do(t, http.MethodGet, "/v1/verdicts/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAbnormal(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, id := range []string{"a", "b"} {
		rec := env.do(t, http.MethodPost, "/v1/recordings/classify", models.RecordingRequest{
			RecordingID: id,
			Samples:     pulseWindow(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/abnormal?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Count      int      `json:"count"`
		Recordings []string `json:"recordings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, []string{"a"}, out.Recordings)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.cache.pingErr = errors.New("connection refused")
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "degraded", out["status"])
	assert.Equal(t, false, out["redis"])
	assert.Equal(t, true, out["store"])
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(t, http.MethodPost, "/v1/segments/classify", models.SegmentRequest{Samples: pulseWindow()})

	rec := env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Validator map[string]interface{} `json:"validator"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.EqualValues(t, 1, out.Validator["segments_classified"])
	assert.EqualValues(t, testHz, out.Validator["window_size"])
}

func TestClassifyCSV(t *testing.T) {
	env := newTestEnv(t, nil)

	var csv bytes.Buffer
	csv.WriteString("time,ECG,PLETH\n")
	for i, v := range concat(pulseWindow(), pulseWindow()) {
		fmt.Fprintf(&csv, "%.6f,0,%g\n", float64(i)/testHz, v)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/recordings/upload-1/csv?windows=true", &csv)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[models.RecordingResponse](t, rec)
	assert.Equal(t, "upload-1", resp.RecordingID)
	assert.Equal(t, "PLETH", resp.Track)
	assert.Equal(t, analytics.RecordingAbnormal, resp.Result.Verdict)
	assert.Len(t, resp.Result.Windows, 2)

	req = httptest.NewRequest(http.MethodPost, "/v1/recordings/upload-2/csv?track=SpO2", strings.NewReader("time,PLETH\n0,1\n"))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/recordings/upload-3/csv", strings.NewReader("time,PLETH\n"))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestClassifyCSV_RejectsHostileTimestamps(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "NaN time", body: "time,PLETH\nNaN,1\n1,2\n", status: http.StatusBadRequest},
		{name: "infinite time", body: "time,PLETH\n-Inf,1\n0,2\n", status: http.StatusBadRequest},
		{name: "span too long", body: "time,PLETH\n0,1\n1e20,2\n", status: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/recordings/hostile/csv", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/recordings/hostile/csv?hz=1000000000", strings.NewReader("time,PLETH\n0,1\n1,2\n"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestClassifyEndpoints_LimitJSONBody(t *testing.T) {
	env := newTestEnv(t, nil)

	oversized := append(bytes.Repeat([]byte(" "), maxJSONBytes+1), []byte(`{"samples":[1,2,3]}`)...)

	for _, path := range []string{
		"/v1/segments/classify",
		"/v1/recordings/classify",
		"/v1/recordings/p001/tracks/PLETH/classify",
	} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(oversized))
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		})
	}
}
