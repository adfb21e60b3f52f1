package suggestion

import (
	"fmt"
	"strings"

	"github.com/clipwizard/clipwizard/internal/transcript"
)

const DefaultMaxClips = 5

// Prompt is the message pair sent to a suggestion service.
type Prompt struct {
	System string
	User   string
}

const systemPrompt = `You are a video editor who picks the most engaging moments of a recording.
Answer with a JSON array and nothing else. Each element must be an object:
{"start": <seconds>, "end": <seconds>, "name": "<short_file_name>", "reason": "<one sentence>"}
Times are seconds from the start of the recording. Every clip must satisfy end > start.`

// BuildPrompt asks for at most maxClips highlights of t.
func BuildPrompt(t transcript.Transcript, maxClips int) Prompt {
	if maxClips <= 0 {
		maxClips = DefaultMaxClips
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pick up to %d highlight clips from this transcript.\n", maxClips)
	if t.Duration > 0 {
		fmt.Fprintf(&b, "The recording is %.1f seconds long.\n", t.Duration)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(t.Timed())

	return Prompt{System: systemPrompt, User: b.String()}
}
