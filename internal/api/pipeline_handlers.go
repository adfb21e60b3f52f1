package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clipwizard/clipwizard/internal/apperr"
	"github.com/clipwizard/clipwizard/internal/clipplan"
	"github.com/clipwizard/clipwizard/internal/pipeline"
	"github.com/clipwizard/clipwizard/internal/storage"
	"github.com/clipwizard/clipwizard/internal/transcript"
)

const (
	codeBadRequest = "BAD_REQUEST"

	maxJSONBody        = 8 << 20
	multipartMemory    = 32 << 20
	multipartOverhead  = 1 << 20
	uploadFieldPrimary = "video"
	uploadFieldAlt     = "file"
)

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := stageFromForm(w, r, cfg)
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, UploadResponse{StagingID: u.ID, Name: u.OriginalName, Size: u.Size})
	}
}

func transcribeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var stagingID string
		if isMultipart(r) {
			u, err := stageFromForm(w, r, cfg)
			if err != nil {
				writeAppError(w, r, cfg.Logger, err)
				return
			}
			stagingID = u.ID
		} else {
			var req StagingRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if req.StagingID == "" {
				WriteError(w, http.StatusBadRequest, "staging_id is required", codeBadRequest)
				return
			}
			stagingID = req.StagingID
		}

		t, err := cfg.Pipeline.Transcribe(r.Context(), stagingID)
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, TranscribeResponse{
			StagingID: stagingID,
			Text:      t.Text,
			Language:  t.Language,
			Duration:  t.Duration,
			Segments:  nonNilSegments(t.Segments),
		})
	}
}

func highlightsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req HighlightsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.MaxClips < 0 {
			WriteError(w, http.StatusBadRequest, "max_clips must not be negative", codeBadRequest)
			return
		}

		t := transcript.Transcript{Text: req.Transcript, Segments: req.Segments}
		switch {
		case !t.Empty():
		case req.StagingID != "":
			var err error
			t, err = cfg.Pipeline.Transcribe(r.Context(), req.StagingID)
			if err != nil {
				writeAppError(w, r, cfg.Logger, err)
				return
			}
		default:
			WriteError(w, http.StatusBadRequest, "transcript or staging_id is required", codeBadRequest)
			return
		}

		sug, err := cfg.Pipeline.Suggest(r.Context(), t, req.MaxClips)
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, HighlightsResponse{StagingID: req.StagingID, Suggestion: sug})
	}
}

func clipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := readClipsRequest(w, r, cfg)
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}
		if req == nil {
			return
		}
		if req.StagingID == "" {
			WriteError(w, http.StatusBadRequest, "staging_id is required", codeBadRequest)
			return
		}
		if len(req.Clips) == 0 {
			WriteError(w, http.StatusBadRequest, "clips must not be empty", codeBadRequest)
			return
		}
		if req.TimeoutS < 0 {
			WriteError(w, http.StatusBadRequest, "timeout_s must not be negative", codeBadRequest)
			return
		}

		res, err := cfg.Pipeline.Extract(r.Context(), pipeline.ExtractRequest{
			StagingID: req.StagingID,
			Clips:     req.Clips,
			Strict:    req.Strict,
			Timeout:   time.Duration(req.TimeoutS * float64(time.Second)),
		})
		if err != nil && res == nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		resp := ClipsResponse{
			RunID:     res.RunID,
			Status:    res.Status,
			Succeeded: res.Succeeded,
			Results:   EntriesToResults(res.Results),
			Rejected:  res.Rejected,
		}
		if resp.Rejected == nil {
			resp.Rejected = []clipplan.Rejection{}
		}

		status := http.StatusOK
		if err != nil {
			kind := apperr.KindOf(err)
			status = apperr.HTTPStatus(kind)
			resp.Error = apperr.MessageOf(err)
			resp.Code = string(kind)
		}
		WriteJSON(w, status, resp)
	}
}

// readClipsRequest accepts either a JSON body or a multipart form with an
// upload plus a "clips" JSON field. A nil request with a nil error means a
// response has already been written.
func readClipsRequest(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (*ClipsRequest, error) {
	if !isMultipart(r) {
		var req ClipsRequest
		if !decodeJSON(w, r, &req) {
			return nil, nil
		}
		return &req, nil
	}

	u, err := stageFromForm(w, r, cfg)
	if err != nil {
		return nil, err
	}

	req := &ClipsRequest{StagingID: u.ID}
	if v := r.FormValue("strict"); v != "" {
		if req.Strict, err = strconv.ParseBool(v); err != nil {
			WriteError(w, http.StatusBadRequest, "strict must be true or false", codeBadRequest)
			return nil, nil
		}
	}
	if v := r.FormValue("timeout_s"); v != "" {
		if req.TimeoutS, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, apperr.New(apperr.InvalidTimeRange, "timeout_s is not a number")
		}
	}
	raw := r.FormValue("clips")
	if strings.TrimSpace(raw) == "" {
		return req, nil
	}
	if err := json.Unmarshal([]byte(raw), &req.Clips); err != nil {
		return nil, apperr.Wrap(apperr.InvalidTimeRange, "clips field is not a valid clip list", err)
	}
	return req, nil
}

func processHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := stageFromForm(w, r, cfg)
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		maxClips := 0
		if v := r.FormValue("max_clips"); v != "" {
			if maxClips, err = strconv.Atoi(v); err != nil || maxClips < 0 {
				WriteError(w, http.StatusBadRequest, "max_clips must be a positive integer", codeBadRequest)
				return
			}
		}

		res, err := cfg.Pipeline.Process(r.Context(), u.ID, maxClips)
		if err != nil && res == nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		resp := ProcessResponse{
			StagingID:  u.ID,
			Transcript: res.Transcript.Text,
			Segments:   nonNilSegments(res.Transcript.Segments),
			Suggestion: res.Suggestion,
			RunID:      res.RunID,
			Status:     res.Status,
			Results:    EntriesToResults(res.Results),
		}

		status := http.StatusOK
		if err != nil {
			kind := apperr.KindOf(err)
			status = apperr.HTTPStatus(kind)
			resp.Error = apperr.MessageOf(err)
			resp.Code = string(kind)
		}
		WriteJSON(w, status, resp)
	}
}

// stageFromForm parses a multipart upload and stages the file found under
// "video" or "file".
func stageFromForm(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (*storage.Upload, error) {
	if cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Newf(apperr.BadUpload, "upload exceeds the %d MB limit", cfg.MaxUploadBytes>>20)
		}
		return nil, apperr.Wrap(apperr.BadUpload, "request is not a valid multipart upload", err)
	}
	context.AfterFunc(r.Context(), func() { r.MultipartForm.RemoveAll() })

	for _, field := range []string{uploadFieldPrimary, uploadFieldAlt} {
		f, hdr, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.BadUpload, "upload could not be read", err)
		}
		defer f.Close()
		return cfg.Pipeline.Stage(r.Context(), hdr.Filename, f)
	}
	return nil, apperr.New(apperr.BadUpload, "no video file provided")
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		msg := "invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		var typed *apperr.Error
		if errors.As(err, &typed) {
			WriteError(w, apperr.HTTPStatus(typed.Kind), typed.Message, string(typed.Kind))
			return false
		}
		WriteError(w, http.StatusBadRequest, msg, codeBadRequest)
		return false
	}
	return true
}

func nonNilSegments(s []transcript.Segment) []transcript.Segment {
	if s == nil {
		return []transcript.Segment{}
	}
	return s
}
