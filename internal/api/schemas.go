package api

import (
	"net/url"
	"time"

	"github.com/clipwizard/clipwizard/internal/clipplan"
	"github.com/clipwizard/clipwizard/internal/extract"
	"github.com/clipwizard/clipwizard/internal/health"
	"github.com/clipwizard/clipwizard/internal/pipeline"
	"github.com/clipwizard/clipwizard/internal/storage"
	"github.com/clipwizard/clipwizard/internal/transcript"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	*health.Capabilities
}

type UploadResponse struct {
	StagingID string `json:"staging_id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
}

type StagingRequest struct {
	StagingID string `json:"staging_id"`
}

type TranscribeResponse struct {
	StagingID string               `json:"staging_id"`
	Text      string               `json:"transcript"`
	Language  string               `json:"language,omitempty"`
	Duration  float64              `json:"duration,omitempty"`
	Segments  []transcript.Segment `json:"segments"`
}

type HighlightsRequest struct {
	Transcript string               `json:"transcript,omitempty"`
	Segments   []transcript.Segment `json:"segments,omitempty"`
	StagingID  string               `json:"staging_id,omitempty"`
	MaxClips   int                  `json:"max_clips,omitempty"`
}

type HighlightsResponse struct {
	StagingID string `json:"staging_id,omitempty"`
	*pipeline.Suggestion
}

type ClipsRequest struct {
	StagingID string                 `json:"staging_id"`
	Clips     []clipplan.ClipRequest `json:"clips"`
	Strict    bool                   `json:"strict,omitempty"`
	TimeoutS  float64                `json:"timeout_s,omitempty"`
}

// ClipResult is one entry of an extraction, in request order.
type ClipResult struct {
	Index        int                 `json:"index"`
	Name         string              `json:"name"`
	Start        float64             `json:"start"`
	End          float64             `json:"end"`
	Status       string              `json:"status"`
	ArtifactName string              `json:"artifact_name,omitempty"`
	DownloadURL  string              `json:"download_url,omitempty"`
	Size         int64               `json:"size,omitempty"`
	Error        *extract.EntryError `json:"error,omitempty"`
}

type ClipsResponse struct {
	RunID     string               `json:"run_id"`
	Status    string               `json:"status"`
	Succeeded int                  `json:"succeeded"`
	Results   []ClipResult         `json:"results"`
	Rejected  []clipplan.Rejection `json:"rejected"`
	Error     string               `json:"error,omitempty"`
	Code      string               `json:"code,omitempty"`
}

type ProcessResponse struct {
	StagingID  string               `json:"staging_id"`
	Transcript string               `json:"transcript"`
	Segments   []transcript.Segment `json:"segments"`
	Suggestion *pipeline.Suggestion `json:"suggestion"`
	RunID      string               `json:"run_id,omitempty"`
	Status     string               `json:"status,omitempty"`
	Results    []ClipResult         `json:"results"`
	Error      string               `json:"error,omitempty"`
	Code       string               `json:"code,omitempty"`
}

type RunResponse struct {
	ID        string             `json:"id"`
	StagingID string             `json:"staging_id"`
	Status    string             `json:"status"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Error     string             `json:"error,omitempty"`
	CreatedAt string             `json:"created_at"`
	UpdatedAt string             `json:"updated_at"`
	Artifacts []ArtifactResponse `json:"artifacts"`
}

type ArtifactResponse struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
	CreatedAt   string `json:"created_at"`
}

type ExportEDLRequest struct {
	StagingID   string                 `json:"staging_id"`
	Clips       []clipplan.ClipRequest `json:"clips"`
	ProjectName string                 `json:"project_name"`
	FrameRate   float64                `json:"frame_rate"`
	Reel        string                 `json:"reel,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func downloadURL(name string) string {
	return "/downloads/" + url.PathEscape(name)
}

func EntriesToResults(entries []extract.Entry) []ClipResult {
	out := make([]ClipResult, len(entries))
	for i, e := range entries {
		out[i] = ClipResult{
			Index:  e.Index,
			Name:   e.Name,
			Start:  e.Start,
			End:    e.End,
			Status: e.Status,
			Error:  e.Error,
		}
		if e.Artifact != nil {
			out[i].ArtifactName = e.Artifact.Name
			out[i].DownloadURL = downloadURL(e.Artifact.Name)
			out[i].Size = e.Artifact.Size
		}
	}
	return out
}

func RunToResponse(run *storage.Run, artifacts []*storage.ArtifactRecord) RunResponse {
	resp := RunResponse{
		ID:        run.ID,
		StagingID: run.UploadID,
		Status:    run.Status,
		Total:     run.Total,
		Succeeded: run.Succeeded,
		Error:     run.Error,
		CreatedAt: run.CreatedAt.Format(time.RFC3339),
		UpdatedAt: run.UpdatedAt.Format(time.RFC3339),
		Artifacts: make([]ArtifactResponse, len(artifacts)),
	}
	for i, a := range artifacts {
		resp.Artifacts[i] = ArtifactResponse{
			Name:        a.Name,
			Size:        a.Size,
			DownloadURL: downloadURL(a.Name),
			CreatedAt:   a.CreatedAt.Format(time.RFC3339),
		}
	}
	return resp
}
