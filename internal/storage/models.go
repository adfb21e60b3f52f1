package storage

import "time"

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
	RunStatusTimedOut  = "timed_out"
)

// Upload is a staged source file. ID doubles as the file name under the
// upload directory.
type Upload struct {
	ID           string    `json:"staging_id"`
	OriginalName string    `json:"name"`
	Path         string    `json:"-"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

type Run struct {
	ID        string    `json:"id"`
	UploadID  string    `json:"staging_id"`
	Status    string    `json:"status"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArtifactRecord is the index row for an output file.
type ArtifactRecord struct {
	Name      string    `json:"name"`
	RunID     string    `json:"run_id,omitempty"`
	UploadID  string    `json:"staging_id,omitempty"`
	Path      string    `json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// RunStatus derives the final status of a run from its counts.
func RunStatus(total, succeeded int, timedOut bool) string {
	switch {
	case timedOut:
		return RunStatusTimedOut
	case succeeded == total:
		return RunStatusCompleted
	case succeeded == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}
