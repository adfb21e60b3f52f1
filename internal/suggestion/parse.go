// Package suggestion reads free-form language model answers and extracts the
// highlight clips they propose.
package suggestion

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/clipwizard/clipwizard/internal/clipplan"
)

type Kind string

const (
	KindJSON        Kind = "json"
	KindMarkdown    Kind = "markdown"
	KindUnparseable Kind = "unparseable"
)

type Reason string

const (
	NoStructuredData        Reason = "no_structured_data"
	MalformedStructuredData Reason = "malformed_structured_data"
)

// Parsed is the outcome of Parse. Clips is set for KindJSON and
// KindMarkdown, Reason only for KindUnparseable. Raw always holds the input.
type Parsed struct {
	Kind   Kind                   `json:"kind"`
	Clips  []clipplan.ClipRequest `json:"clips"`
	Reason Reason                 `json:"reason,omitempty"`
	Raw    string                 `json:"-"`
}

func (p Parsed) OK() bool {
	return p.Kind != KindUnparseable
}

var (
	highlightHeader = regexp.MustCompile(`(?mi)^[ \t]*\d+\.[ \t]*\*\*[ \t]*Highlight`)
	startMarker     = regexp.MustCompile(`(?i)-[ \t]*\*\*Start Time:\*\*`)
	highlightFields = regexp.MustCompile(
		`(?is)-[ \t]*\*\*Start Time:\*\*\s*(\d+(?::\d{1,2}){0,2})` +
			`.*?-[ \t]*\*\*End Time:\*\*\s*(\d+(?::\d{1,2}){0,2})` +
			`.*?-[ \t]*\*\*Reason:\*\*[ \t]*(.*)`)
)

// Parse never fails: text that holds neither shape comes back as
// KindUnparseable with the reason and the raw text.
func Parse(text string) Parsed {
	if clips := parseHighlightList(text); len(clips) > 0 {
		return Parsed{Kind: KindMarkdown, Clips: clips, Raw: text}
	}

	clips, reason := parseEmbeddedArray(text)
	if reason != "" {
		return Parsed{Kind: KindUnparseable, Reason: reason, Raw: text}
	}
	return Parsed{Kind: KindJSON, Clips: clips, Raw: text}
}

// parseHighlightList reads numbered "N. **Highlight ...**" blocks. Each block
// contributes at most one clip per Start Time marker it holds.
func parseHighlightList(text string) []clipplan.ClipRequest {
	var clips []clipplan.ClipRequest
	for _, block := range splitAt(text, highlightHeader) {
		for _, entry := range splitAt(block, startMarker) {
			m := highlightFields.FindStringSubmatch(entry)
			if m == nil {
				continue
			}
			start, ok1 := clockSeconds(m[1])
			end, ok2 := clockSeconds(m[2])
			if !ok1 || !ok2 {
				continue
			}
			clips = append(clips, clipplan.ClipRequest{
				Start:  clipplan.TimeValue(strconv.Itoa(start)),
				End:    clipplan.TimeValue(strconv.Itoa(end)),
				Reason: strings.TrimSpace(m[3]),
			})
		}
	}
	return clips
}

// splitAt cuts text in front of every match of re. Text before the first
// match is kept as its own piece.
func splitAt(text string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	pieces := make([]string, 0, len(locs)+1)
	if locs[0][0] > 0 {
		pieces = append(pieces, text[:locs[0][0]])
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		pieces = append(pieces, text[loc[0]:end])
	}
	return pieces
}

// clockSeconds accepts "75", "1:15" or "0:01:15".
func clockSeconds(s string) (int, bool) {
	total := 0
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// parseEmbeddedArray finds the first non-empty JSON array of objects in text
// and decodes it. An empty array is the answer only when no later candidate
// holds clips. A candidate that does not decode makes the text malformed
// unless a later candidate succeeds.
func parseEmbeddedArray(text string) ([]clipplan.ClipRequest, Reason) {
	sawCandidate := false
	sawEmpty := false
	for i := 0; i < len(text); i++ {
		if text[i] != '[' || !opensObjectArray(text, i) {
			continue
		}
		sawCandidate = true

		end := matchingBracket(text, i)
		if end < 0 {
			break
		}

		var clips []clipplan.ClipRequest
		if err := json.Unmarshal([]byte(text[i:end+1]), &clips); err == nil {
			if len(clips) > 0 {
				return clips, ""
			}
			sawEmpty = true
		}
		i = end
	}

	switch {
	case sawEmpty:
		return []clipplan.ClipRequest{}, ""
	case sawCandidate:
		return nil, MalformedStructuredData
	default:
		return nil, NoStructuredData
	}
}

// opensObjectArray reports whether the '[' at i is followed by '{' or ']'
// after optional whitespace.
func opensObjectArray(text string, i int) bool {
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', ']':
			return true
		default:
			return false
		}
	}
	return false
}

// matchingBracket returns the index of the ']' closing the '[' at open,
// skipping brackets inside JSON strings, or -1.
func matchingBracket(text string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				if c != ']' {
					return -1
				}
				return i
			}
		}
	}
	return -1
}
