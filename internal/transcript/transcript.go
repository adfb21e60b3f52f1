// Package transcript holds the speech-to-text result passed between the
// transcription service, the prompt builder and HTTP clients.
package transcript

import (
	"fmt"
	"strings"
)

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Timed renders one "[start-end] text" line per segment, or the plain text
// when no segments are known.
func (t Transcript) Timed() string {
	if len(t.Segments) == 0 {
		return strings.TrimSpace(t.Text)
	}

	var b strings.Builder
	for _, s := range t.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%.1fs-%.1fs] %s\n", s.Start, s.End, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t Transcript) Empty() bool {
	return strings.TrimSpace(t.Text) == "" && len(t.Segments) == 0
}
