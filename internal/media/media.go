// Package media wraps ffmpeg and ffprobe: probing staged uploads, cutting
// clips and extracting speech audio. ffmpeg command lines are built with
// ffmpeg-go and run with the configured binaries.
package media

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const defaultProbeTimeout = 30 * time.Second

// SourceInfo is what ffprobe reports about a staged upload.
type SourceInfo struct {
	Duration   float64 `json:"duration"`
	FormatName string  `json:"format_name,omitempty"`
	HasVideo   bool    `json:"has_video"`
	HasAudio   bool    `json:"has_audio"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
}

// Source is a read-only handle on a probed upload. The open file keeps the
// data reachable until Close even if the path is unlinked.
type Source struct {
	Path string
	Info SourceInfo

	file *os.File
}

func (s *Source) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

type Adapter struct {
	ffmpegPath   string
	ffprobePath  string
	probeTimeout time.Duration
	logger       *slog.Logger
}

func New(ffmpegPath, ffprobePath string, logger *slog.Logger) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		probeTimeout: defaultProbeTimeout,
		logger:       logger,
	}
}

// Open pins path for reading and probes it.
func (a *Adapter) Open(ctx context.Context, path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open source")
	}

	info, err := a.Probe(ctx, path)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Source{Path: path, Info: info, file: f}, nil
}

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

func (a *Adapter) Probe(ctx context.Context, path string) (SourceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.ffprobePath, probeArgs(path)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	raw, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return SourceInfo{}, errors.WithStack(ctx.Err())
		}
		return SourceInfo{}, errors.Wrapf(err, "ffprobe: %s", tail(stderr.String(), 400))
	}
	return parseProbe(string(raw))
}

// probeArgs mirrors the flags ffmpeg-go's Probe passes to ffprobe.
func probeArgs(path string) []string {
	return []string{"-show_format", "-show_streams", "-of", "json", path}
}

func parseProbe(raw string) (SourceInfo, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return SourceInfo{}, errors.WithStack(err)
	}

	info := SourceInfo{FormatName: out.Format.FormatName}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if !info.HasVideo {
				info.Width, info.Height = s.Width, s.Height
			}
			info.HasVideo = true
		case "audio":
			info.HasAudio = true
		default:
			continue
		}
		if info.Duration <= 0 {
			info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
	}

	if !info.HasVideo && !info.HasAudio {
		return SourceInfo{}, errors.New("no audio or video streams")
	}
	return info, nil
}

// EncodeClip cuts [start, end) seconds of src into an MP4 at out: H.264 and
// AAC, with bit-exact flags and metadata stripped so the same cut always
// yields the same bytes.
func (a *Adapter) EncodeClip(ctx context.Context, src string, info SourceInfo, start, end float64, out string) error {
	return errors.Wrap(a.run(ctx, clipCommand(src, info, start, end, out)), "ffmpeg encode clip")
}

func clipCommand(src string, info SourceInfo, start, end float64, out string) *ffmpeg.Stream {
	args := ffmpeg.KwArgs{
		"t":            formatSeconds(end - start),
		"map_metadata": "-1",
		"fflags":       "+bitexact",
		"movflags":     "+faststart",
		"f":            "mp4",
	}
	if info.HasVideo {
		args["c:v"] = "libx264"
		args["preset"] = "veryfast"
		args["crf"] = "18"
		args["pix_fmt"] = "yuv420p"
		args["flags:v"] = "+bitexact"
	} else {
		args["vn"] = ""
	}
	if info.HasAudio {
		args["c:a"] = "aac"
		args["b:a"] = "192k"
		args["flags:a"] = "+bitexact"
	} else {
		args["an"] = ""
	}

	return ffmpeg.Input(src, ffmpeg.KwArgs{"ss": formatSeconds(start)}).
		Output(out, args).
		OverWriteOutput()
}

// ExtractAudio writes a mono 16 kHz MP3 of src's audio track, small enough
// for speech-to-text upload limits.
func (a *Adapter) ExtractAudio(ctx context.Context, src, out string) error {
	stream := ffmpeg.Input(src).
		Output(out, ffmpeg.KwArgs{
			"vn":  "",
			"ac":  "1",
			"ar":  "16000",
			"c:a": "libmp3lame",
			"b:a": "64k",
			"f":   "mp3",
		}).
		OverWriteOutput()

	return errors.Wrap(a.run(ctx, stream), "ffmpeg extract audio")
}

// run executes the stream's arguments under ctx with the configured binary.
func (a *Adapter) run(ctx context.Context, stream *ffmpeg.Stream) error {
	cmd := exec.CommandContext(ctx, a.ffmpegPath, stream.GetArgs()...)

	if a.logger != nil {
		a.logger.Debug("running ffmpeg", "args", strings.Join(cmd.Args[1:], " "))
	}

	b, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}
		return errors.Wrapf(err, "%s", tail(string(b), 800))
	}
	return nil
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
