// Package clipplan turns untrusted clip requests into a validated plan that
// the extractor can execute.
package clipplan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/clipwizard/clipwizard/internal/apperr"
	"github.com/clipwizard/clipwizard/internal/safename"
)

const (
	// DefaultClipLength is used when a request carries no end time.
	DefaultClipLength = 30.0

	// OutputExt is the extension of the fixed output container.
	OutputExt = ".mp4"
)

// TimeValue holds a start or end time exactly as it arrived: a JSON number,
// a numeric string, or anything else. Empty means absent.
type TimeValue string

func (v *TimeValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TimeValue(s)
		return nil
	}
	if len(data) == 0 || (data[0] != '-' && (data[0] < '0' || data[0] > '9')) {
		return apperr.Newf(apperr.InvalidTimeRange, "time must be a number or a string, got %s", data)
	}
	*v = TimeValue(data)
	return nil
}

func (v TimeValue) MarshalJSON() ([]byte, error) {
	if v == "" {
		return []byte("null"), nil
	}
	if f, ok := v.Seconds(); ok {
		return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
	}
	return json.Marshal(string(v))
}

// Present reports whether a value was supplied.
func (v TimeValue) Present() bool {
	return strings.TrimSpace(string(v)) != ""
}

// Seconds parses the value as a finite number of seconds.
func (v TimeValue) Seconds() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Seconds builds a TimeValue from a number.
func Seconds(f float64) TimeValue {
	return TimeValue(strconv.FormatFloat(f, 'f', -1, 64))
}

// ClipRequest is a clip as proposed by the language model or a client.
// Nothing about it is trusted.
type ClipRequest struct {
	Start  TimeValue `json:"start"`
	End    TimeValue `json:"end,omitempty"`
	Name   string    `json:"name,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// ClipPlan is a validated clip: Start >= 0, End > Start, Name is a safe
// file name ending in OutputExt. Index is the 1-based position of the
// request it came from.
type ClipPlan struct {
	Index  int     `json:"index"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Name   string  `json:"name"`
	Reason string  `json:"reason,omitempty"`
}

func (p ClipPlan) Duration() float64 {
	return p.End - p.Start
}

// Rejection explains why the request at Index was left out of the plan.
type Rejection struct {
	Index   int         `json:"index"`
	Kind    apperr.Kind `json:"code"`
	Message string      `json:"message"`
}

type Options struct {
	// Strict fails the whole batch on the first invalid range instead of
	// reporting the entry and dropping it.
	Strict bool
}

type Result struct {
	Plans    []ClipPlan  `json:"clips"`
	Rejected []Rejection `json:"rejected"`
}

// Validate coerces, checks and names every request, preserving input order.
//
// A missing or non-numeric start, or a non-numeric end, fails the batch with
// InvalidTimeRange. A missing end becomes start+DefaultClipLength. Negative
// starts and non-positive durations are rejected per entry, or fail the batch
// under Options.Strict.
func Validate(reqs []ClipRequest, opts Options) (Result, error) {
	res := Result{
		Plans:    make([]ClipPlan, 0, len(reqs)),
		Rejected: make([]Rejection, 0),
	}

	for i, req := range reqs {
		pos := i + 1

		if !req.Start.Present() {
			return Result{}, apperr.Newf(apperr.InvalidTimeRange, "clip %d: start is required", pos)
		}
		start, ok := req.Start.Seconds()
		if !ok {
			return Result{}, apperr.Newf(apperr.InvalidTimeRange, "clip %d: start %q is not a number", pos, string(req.Start))
		}

		end := start + DefaultClipLength
		if req.End.Present() {
			end, ok = req.End.Seconds()
			if !ok {
				return Result{}, apperr.Newf(apperr.InvalidTimeRange, "clip %d: end %q is not a number", pos, string(req.End))
			}
		}

		var problem string
		switch {
		case start < 0:
			problem = fmt.Sprintf("clip %d: start %g is negative", pos, start)
		case end <= start:
			problem = fmt.Sprintf("clip %d: end %g is not after start %g", pos, end, start)
		}
		if problem != "" {
			if opts.Strict {
				return Result{}, apperr.New(apperr.InvalidTimeRange, problem)
			}
			res.Rejected = append(res.Rejected, Rejection{
				Index:   pos,
				Kind:    apperr.InvalidTimeRange,
				Message: problem,
			})
			continue
		}

		res.Plans = append(res.Plans, ClipPlan{
			Index:  pos,
			Start:  start,
			End:    end,
			Name:   planName(req.Name, pos),
			Reason: strings.TrimSpace(req.Reason),
		})
	}

	return res, nil
}

func planName(requested string, pos int) string {
	name := safename.Clean(requested)
	if name == "" {
		return fmt.Sprintf("clip_%d%s", pos, OutputExt)
	}
	name = safename.WithExt(name, OutputExt)
	if len(name) > safename.MaxLen {
		base := safename.Truncate(name[:len(name)-len(OutputExt)], safename.MaxLen-len(OutputExt))
		if base == "" {
			return fmt.Sprintf("clip_%d%s", pos, OutputExt)
		}
		name = base + OutputExt
	}
	return name
}
