package api

import (
	"mime"
	"net/http"

	"github.com/clipwizard/clipwizard/internal/apperr"
	"github.com/clipwizard/clipwizard/internal/export"
	"github.com/clipwizard/clipwizard/internal/safename"
)

const defaultProjectName = "clipwizard_export"

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportEDLRequest
		if !decodeJSON(w, r, &req) {
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
		if req.FrameRate < 0 || req.FrameRate > 240 {
			WriteError(w, http.StatusBadRequest, "frame_rate must be between 0 and 240", codeBadRequest)
			return
		}

		u, err := cfg.Store.Resolve(r.Context(), req.StagingID)
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		plan, err := cfg.Pipeline.PlanFromRequests(req.Clips, false)
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}
		if len(plan.Plans) == 0 {
			WriteError(w, http.StatusBadRequest, "no valid clips to export", string(apperr.InvalidTimeRange))
			return
		}

		project := safename.Clean(req.ProjectName)
		if project == "" {
			project = defaultProjectName
		}

		edl := export.GenerateEDL(export.Source{Reel: req.Reel, Name: u.OriginalName}, plan.Plans, project, req.FrameRate)

		filename := safename.WithExt(project, ".edl")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(edl))
	}
}
