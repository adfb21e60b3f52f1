// Package export renders clip plans as edit decision lists that editing
// suites can import.
package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/clipwizard/clipwizard/internal/clipplan"
)

const DefaultFrameRate = 30.0

// Source names the media the events are cut from.
type Source struct {
	Reel string
	Name string
}

// IsDropFrame reports whether frameRate is one of the NTSC rates that use
// drop-frame timecode.
func IsDropFrame(frameRate float64) bool {
	return math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01
}

// GenerateEDL renders a CMX3600 list with one event per clip. Events are
// packed back to back on the record timeline in plan order.
func GenerateEDL(src Source, clips []clipplan.ClipPlan, title string, frameRate float64) string {
	if frameRate <= 0 || math.IsNaN(frameRate) || math.IsInf(frameRate, 0) {
		frameRate = DefaultFrameRate
	}
	drop := IsDropFrame(frameRate)

	reel := strings.ToUpper(strings.TrimSpace(src.Reel))
	if reel == "" {
		reel = "AX"
	}
	if len(reel) > 8 {
		reel = reel[:8]
	}

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if drop {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	record := 0.0
	for i, clip := range clips {
		dur := clip.Duration()
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, reel, "V",
				timecode(clip.Start, frameRate, drop),
				timecode(clip.End, frameRate, drop),
				timecode(record, frameRate, drop),
				timecode(record+dur, frameRate, drop)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.Name),
		)
		if src.Name != "" {
			lines = append(lines, fmt.Sprintf("* SOURCE FILE:  %s", src.Name))
		}
		if clip.Reason != "" {
			lines = append(lines, fmt.Sprintf("* COMMENT:  %s", oneLine(clip.Reason)))
		}
		record += dur
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// timecode renders sec as HH:MM:SS:FF, or HH:MM:SS;FF with dropped frame
// numbers skipped for drop-frame rates.
func timecode(sec float64, frameRate float64, drop bool) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	if !drop {
		return formatFrames(int(math.Round(sec*float64(fps))), fps, ":")
	}

	frames := int(math.Round(sec * frameRate))
	dropped := fps / 15
	perTenMinutes := int(math.Round(frameRate * 600))
	perMinute := fps*60 - dropped

	tens, rem := frames/perTenMinutes, frames%perTenMinutes
	frames += dropped * 9 * tens
	if rem > dropped {
		frames += dropped * ((rem - dropped) / perMinute)
	}
	return formatFrames(frames, fps, ";")
}

func formatFrames(total, fps int, sep string) string {
	frames := total % fps
	seconds := total / fps
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", seconds/3600, seconds/60%60, seconds%60, sep, frames)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
