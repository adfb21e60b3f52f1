package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clipwizard/clipwizard/internal/db"
	"github.com/clipwizard/clipwizard/internal/extract"
	"github.com/clipwizard/clipwizard/internal/health"
	"github.com/clipwizard/clipwizard/internal/media"
	"github.com/clipwizard/clipwizard/internal/pipeline"
	"github.com/clipwizard/clipwizard/internal/storage"
	"github.com/clipwizard/clipwizard/internal/suggestion"
	"github.com/clipwizard/clipwizard/internal/transcript"
)

const markdownAnswer = `1. **Highlight 1**
   - **Start Time:** 12
   - **End Time:** 20
   - **Reason:** The opening joke.

2. **Highlight 2**
   - **Start Time:** 40
   - **End Time:** 55
   - **Reason:** The key insight.
`

type fakeAudio struct{}

func (fakeAudio) ExtractAudio(ctx context.Context, src, out string) error {
	return os.WriteFile(out, []byte("audio"), 0o644)
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (transcript.Transcript, error) {
	return transcript.Transcript{
		Text:     "hello and welcome",
		Duration: 60,
		Segments: []transcript.Segment{{Start: 0, End: 60, Text: "hello and welcome"}},
	}, nil
}

type fakeSuggester struct {
	answer string
	err    error
}

func (f *fakeSuggester) Suggest(ctx context.Context, p suggestion.Prompt) (string, error) {
	return f.answer, f.err
}

type fakeOpener struct{ duration float64 }

func (f fakeOpener) Open(ctx context.Context, path string) (*media.Source, error) {
	return &media.Source{Path: path, Info: media.SourceInfo{Duration: f.duration, HasVideo: true, HasAudio: true}}, nil
}

type fakeEncoder struct{}

func (fakeEncoder) EncodeClip(ctx context.Context, src string, info media.SourceInfo, start, end float64, out string) error {
	return os.WriteFile(out, []byte(fmt.Sprintf("clip %.3f-%.3f", start, end)), 0o644)
}

type fakeHealth struct {
	caps *health.Capabilities
	err  error
}

func (f fakeHealth) Get(ctx context.Context) (*health.Capabilities, error) {
	return f.caps, f.err
}

type testEnv struct {
	router    http.Handler
	store     *storage.Gateway
	suggester *fakeSuggester
}

func newTestEnv(t *testing.T, duration float64, maxUpload int64) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := db.New(filepath.Join(dir, "test.db"), logger)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store, err := storage.New(storage.Config{
		UploadDir:      filepath.Join(dir, "uploads"),
		OutputDir:      filepath.Join(dir, "outputs"),
		MaxUploadBytes: maxUpload,
		Repository:     storage.NewRepository(database.Conn()),
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}

	sug := &fakeSuggester{answer: markdownAnswer}
	svc := pipeline.New(pipeline.Deps{
		Store:       store,
		Audio:       fakeAudio{},
		Transcriber: fakeTranscriber{},
		Suggester:   sug,
		Extractor: extract.New(extract.Config{
			OutputDir: store.OutputDir(),
			Workers:   2,
			Opener:    fakeOpener{duration: duration},
			Encoder:   fakeEncoder{},
			Sink:      store,
			Logger:    logger,
		}),
		CacheDir: filepath.Join(dir, "cache"),
		Logger:   logger,
	})

	router := NewRouter(ServerConfig{
		Pipeline:       svc,
		Store:          store,
		MaxUploadBytes: maxUpload,
		Logger:         logger,
		StartTime:      time.Now(),
		Version:        "test",
	})
	return &testEnv{router: router, store: store, suggester: sug}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) stage(t *testing.T) string {
	t.Helper()
	u, err := e.store.Stage(context.Background(), "talk.mp4", strings.NewReader("video bytes"))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	return u.ID
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	raw, ok := body.(string)
	if !ok {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal error: %v", err)
		}
		raw = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, path, field, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(fw, content)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	body := decode[ErrorResponse](t, rr)
	if body.Code != code || body.Error == "" {
		t.Errorf("error body = %+v, want code %s", body, code)
	}
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, 60, 0)
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "Clipwizard AI is running!" {
		t.Errorf("GET / = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestHealth(t *testing.T) {
	ready := &health.Capabilities{
		OpenAIConfigured: true,
		SuggestProvider:  "openai",
		FFmpeg:           health.Tool{Available: true},
		FFprobe:          health.Tool{Available: true},
		ProbedAt:         time.Now(),
	}

	tests := []struct {
		name   string
		check  HealthChecker
		status string
	}{
		{"no checker", nil, "ok"},
		{"ready", fakeHealth{caps: ready}, "ok"},
		{"missing ffmpeg", fakeHealth{caps: &health.Capabilities{ProbedAt: time.Now()}}, "degraded"},
		{"probe failed", fakeHealth{err: errors.New("boom")}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			healthHandler(ServerConfig{
				Health:    tt.check,
				Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
				StartTime: time.Now(),
				Version:   "test",
			}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			body := decode[map[string]any](t, rr)
			if body["status"] != tt.status {
				t.Errorf("status = %v, want %s", body["status"], tt.status)
			}
			if tt.name == "ready" && body["openai_configured"] != true {
				t.Errorf("credential flags missing: %v", body)
			}
		})
	}
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, 60, 0)

	for _, field := range []string{"video", "file"} {
		rr := env.do(t, multipartRequest(t, "/uploads", field, "My Talk.mp4", "data", nil))
		if rr.Code != http.StatusCreated {
			t.Fatalf("%s: status = %d body %s", field, rr.Code, rr.Body.String())
		}
		body := decode[UploadResponse](t, rr)
		if !strings.HasSuffix(body.StagingID, "_My Talk.mp4") || body.Size != 4 || body.Name != "My Talk.mp4" {
			t.Errorf("%s: upload = %+v", field, body)
		}
	}
}

func TestUpload_Rejected(t *testing.T) {
	env := newTestEnv(t, 60, 10)

	assertError(t, env.do(t, multipartRequest(t, "/uploads", "", "", "", map[string]string{"x": "y"})),
		http.StatusBadRequest, "BAD_UPLOAD")
	assertError(t, env.do(t, multipartRequest(t, "/uploads", "video", "big.mp4", strings.Repeat("x", 20), nil)),
		http.StatusBadRequest, "BAD_UPLOAD")
	assertError(t, env.do(t, multipartRequest(t, "/uploads", "video", "empty.mp4", "", nil)),
		http.StatusBadRequest, "BAD_UPLOAD")
	assertError(t, env.do(t, jsonRequest(t, http.MethodPost, "/uploads", `{}`)),
		http.StatusBadRequest, "BAD_UPLOAD")
}

func TestClips_PerEntryOutcomesAndDownload(t *testing.T) {
	env := newTestEnv(t, 10, 0)
	id := env.stage(t)

	rr := env.do(t, jsonRequest(t, http.MethodPost, "/clips", map[string]any{
		"staging_id": id,
		"clips": []map[string]any{
			{"start": 1, "end": 4, "name": "intro"},
			{"start": 15, "end": 20},
			{"start": "5", "end": "2"},
		},
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	body := decode[ClipsResponse](t, rr)

	if len(body.Results) != 2 || len(body.Rejected) != 1 || body.Rejected[0].Index != 3 {
		t.Fatalf("response = %+v", body)
	}
	ok, out := body.Results[0], body.Results[1]
	if ok.Status != extract.StatusOK || !strings.HasSuffix(ok.ArtifactName, "_intro.mp4") {
		t.Errorf("first result = %+v", ok)
	}
	if out.Status != extract.StatusError || out.Error == nil || out.Error.Code != "RANGE_OUT_OF_BOUNDS" {
		t.Errorf("second result = %+v", out)
	}
	if body.Status != storage.RunStatusPartial || body.Succeeded != 1 {
		t.Errorf("run status = %s succeeded = %d", body.Status, body.Succeeded)
	}

	dl := env.do(t, httptest.NewRequest(http.MethodGet, ok.DownloadURL, nil))
	if dl.Code != http.StatusOK || dl.Body.String() != "clip 1.000-4.000" {
		t.Errorf("download = %d %q", dl.Code, dl.Body.String())
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	runResp := env.do(t, httptest.NewRequest(http.MethodGet, "/runs/"+body.RunID, nil))
	run := decode[RunResponse](t, runResp)
	if run.Status != storage.RunStatusPartial || run.Total != 2 || len(run.Artifacts) != 1 {
		t.Errorf("run = %+v", run)
	}
}

func TestClips_Multipart(t *testing.T) {
	env := newTestEnv(t, 60, 0)

	rr := env.do(t, multipartRequest(t, "/clips", "video", "talk.mp4", "video", map[string]string{
		"clips":     `[{"start": 0, "end": 3}, {"start": 10}]`,
		"timeout_s": "30",
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	body := decode[ClipsResponse](t, rr)
	if len(body.Results) != 2 || body.Succeeded != 2 {
		t.Fatalf("response = %+v", body)
	}
	if body.Results[1].End != 40 || body.Results[1].Name != "clip_2.mp4" {
		t.Errorf("default end or name not applied: %+v", body.Results[1])
	}
}

func TestClips_MultipartBadFields(t *testing.T) {
	env := newTestEnv(t, 60, 0)
	clips := `[{"start": 0, "end": 3}]`

	tests := []struct {
		name   string
		fields map[string]string
		status int
		code   string
	}{
		{"strict not a boolean", map[string]string{"clips": clips, "strict": "maybe"}, 400, codeBadRequest},
		{"strict without clips", map[string]string{"strict": "yes please"}, 400, codeBadRequest},
		{"timeout not a number", map[string]string{"clips": clips, "timeout_s": "soon"}, 400, "INVALID_TIME_RANGE"},
		{"clips not a list", map[string]string{"clips": `{"start": 0}`}, 400, "INVALID_TIME_RANGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, multipartRequest(t, "/clips", "video", "talk.mp4", "video", tt.fields))
			assertError(t, rr, tt.status, tt.code)
		})
	}

	rr := env.do(t, multipartRequest(t, "/clips", "video", "talk.mp4", "video", map[string]string{
		"clips":  clips,
		"strict": "1",
	}))
	if rr.Code != http.StatusOK {
		t.Errorf("strict=1 status = %d body %s", rr.Code, rr.Body.String())
	}
}

func TestClips_BadRequests(t *testing.T) {
	env := newTestEnv(t, 60, 0)
	id := env.stage(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"non-numeric start", map[string]any{"staging_id": id, "clips": []map[string]any{{"start": "soon"}}}, 400, "INVALID_TIME_RANGE"},
		{"boolean start", `{"staging_id": "` + id + `", "clips": [{"start": true}]}`, 400, "INVALID_TIME_RANGE"},
		{"strict rejects range", map[string]any{"staging_id": id, "strict": true, "clips": []map[string]any{{"start": 9, "end": 3}}}, 400, "INVALID_TIME_RANGE"},
		{"unknown staging id", map[string]any{"staging_id": "nope.mp4", "clips": []map[string]any{{"start": 1}}}, 404, "NOT_FOUND"},
		{"no clips", map[string]any{"staging_id": id}, 400, codeBadRequest},
		{"malformed json", `{"staging_id":`, 400, codeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, env.do(t, jsonRequest(t, http.MethodPost, "/clips", tt.body)), tt.status, tt.code)
		})
	}
}

func TestDownload_NotFound(t *testing.T) {
	env := newTestEnv(t, 60, 0)

	for _, path := range []string{
		"/downloads/..%2F..%2Fetc%2Fpasswd",
		"/downloads/missing.mp4",
		"/downloads/%2e%2e",
	} {
		assertError(t, env.do(t, httptest.NewRequest(http.MethodGet, path, nil)), http.StatusNotFound, "NOT_FOUND")
	}
}

func TestRuns_NotFound(t *testing.T) {
	env := newTestEnv(t, 60, 0)
	assertError(t, env.do(t, httptest.NewRequest(http.MethodGet, "/runs/nope", nil)), http.StatusNotFound, "NOT_FOUND")
}

func TestProcess(t *testing.T) {
	env := newTestEnv(t, 60, 0)

	rr := env.do(t, multipartRequest(t, "/process", "video", "talk.mp4", "video", map[string]string{"max_clips": "2"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	body := decode[ProcessResponse](t, rr)
	if body.Transcript != "hello and welcome" || body.Suggestion.Kind != suggestion.KindMarkdown {
		t.Errorf("response = %+v", body)
	}
	if len(body.Results) != 2 || body.Status != storage.RunStatusCompleted {
		t.Fatalf("results = %+v", body.Results)
	}
	for _, r := range body.Results {
		if r.Status != extract.StatusOK || r.DownloadURL == "" {
			t.Errorf("result = %+v", r)
		}
	}
}

func TestProcess_UnparseableSuggestion(t *testing.T) {
	env := newTestEnv(t, 60, 0)
	env.suggester.answer = "Sorry, nothing stood out."

	rr := env.do(t, multipartRequest(t, "/process", "video", "talk.mp4", "video", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	body := decode[map[string]any](t, rr)
	sug, _ := body["suggestion"].(map[string]any)
	warning, _ := sug["warning"].(map[string]any)
	if warning["code"] != "UNPARSEABLE_SUGGESTION" || sug["raw_text"] != env.suggester.answer {
		t.Errorf("suggestion = %v", sug)
	}
	if results, _ := body["results"].([]any); len(results) != 0 {
		t.Errorf("results = %v", results)
	}
}

func TestHighlights(t *testing.T) {
	env := newTestEnv(t, 60, 0)
	env.suggester.answer = "```json\n[{\"start\": 3, \"end\": 9, \"name\": \"hook\", \"reason\": \"funny\"}]\n```"

	rr := env.do(t, jsonRequest(t, http.MethodPost, "/highlights", map[string]any{"transcript": "some words", "max_clips": 1}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	body := decode[pipeline.Suggestion](t, rr)
	if body.Kind != suggestion.KindJSON || len(body.Clips) != 1 || body.Clips[0].Name != "hook.mp4" {
		t.Errorf("suggestion = %+v", body)
	}

	id := env.stage(t)
	rr = env.do(t, jsonRequest(t, http.MethodPost, "/highlights", map[string]any{"staging_id": id}))
	if rr.Code != http.StatusOK {
		t.Errorf("staging_id highlights status = %d body %s", rr.Code, rr.Body.String())
	}

	assertError(t, env.do(t, jsonRequest(t, http.MethodPost, "/highlights", map[string]any{})),
		http.StatusBadRequest, codeBadRequest)

	env.suggester.err = errors.New("upstream 500")
	assertError(t, env.do(t, jsonRequest(t, http.MethodPost, "/highlights", map[string]any{"transcript": "x"})),
		http.StatusBadGateway, "SUGGESTION_UNAVAILABLE")
}

func TestTranscribe(t *testing.T) {
	env := newTestEnv(t, 60, 0)
	id := env.stage(t)

	rr := env.do(t, jsonRequest(t, http.MethodPost, "/transcribe", StagingRequest{StagingID: id}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	body := decode[TranscribeResponse](t, rr)
	if body.Text != "hello and welcome" || len(body.Segments) != 1 || body.StagingID != id {
		t.Errorf("response = %+v", body)
	}

	rr = env.do(t, multipartRequest(t, "/transcribe", "video", "talk.mp4", "video", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("multipart status = %d body %s", rr.Code, rr.Body.String())
	}

	assertError(t, env.do(t, jsonRequest(t, http.MethodPost, "/transcribe", StagingRequest{})),
		http.StatusBadRequest, codeBadRequest)
}

func TestExportEDL(t *testing.T) {
	env := newTestEnv(t, 60, 0)
	id := env.stage(t)

	rr := env.do(t, jsonRequest(t, http.MethodPost, "/export/edl", map[string]any{
		"staging_id":   id,
		"project_name": "My Project",
		"frame_rate":   25,
		"clips":        []map[string]any{{"start": 1, "end": 3, "name": "a"}, {"start": 10, "end": 12}},
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "My Project.edl") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	edl := rr.Body.String()
	for _, want := range []string{"TITLE: My Project", "* FROM CLIP NAME:  a.mp4", "* SOURCE FILE:  talk.mp4", "002  AX"} {
		if !strings.Contains(edl, want) {
			t.Errorf("EDL missing %q:\n%s", want, edl)
		}
	}

	assertError(t, env.do(t, jsonRequest(t, http.MethodPost, "/export/edl", map[string]any{
		"staging_id": id,
		"clips":      []map[string]any{{"start": 5, "end": 1}},
	})), http.StatusBadRequest, "INVALID_TIME_RANGE")
	assertError(t, env.do(t, jsonRequest(t, http.MethodPost, "/export/edl", map[string]any{
		"staging_id": "missing.mp4",
		"clips":      []map[string]any{{"start": 1}},
	})), http.StatusNotFound, "NOT_FOUND")
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RequestIDMiddleware()(RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assertError(t, rr, http.StatusInternalServerError, "INTERNAL_ERROR")
	if len(rr.Header().Get("X-Request-ID")) != 8 {
		t.Errorf("X-Request-ID = %q", rr.Header().Get("X-Request-ID"))
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t, 60, 0)
	assertError(t, env.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil)), http.StatusNotFound, "NOT_FOUND")
}
