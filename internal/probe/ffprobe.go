package probe

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Result is the subset of `ffprobe -show_format -show_streams` JSON that
// metadata extraction reads.
type Result struct {
	Format  Format   `json:"format"`
	Streams []Stream `json:"streams"`
}

// Format holds container-level attributes. ffprobe reports numbers as
// strings here, with "N/A" for unknown values.
type Format struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// Stream holds per-stream attributes.
type Stream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
	PixFmt       string            `json:"pix_fmt,omitempty"`
	AvgFrameRate string            `json:"avg_frame_rate,omitempty"`
	Duration     string            `json:"duration,omitempty"`
	BitRate      string            `json:"bit_rate,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	SideData     []SideData        `json:"side_data_list,omitempty"`
	Disposition  map[string]int    `json:"disposition,omitempty"`
}

// SideData is one entry of a stream's side data list. Only the display
// matrix rotation is read.
type SideData struct {
	Type     string  `json:"side_data_type"`
	Rotation float64 `json:"rotation"`
}

// Parse decodes ffprobe JSON output.
func Parse(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if r.Format.FormatName == "" && len(r.Streams) == 0 {
		return nil, fmt.Errorf("parse ffprobe output: no format or streams reported")
	}
	return &r, nil
}

// Video returns the first video stream that is not cover art, or nil.
func (r *Result) Video() *Stream {
	var fallback *Stream
	for i := range r.Streams {
		s := &r.Streams[i]
		if s.CodecType != "video" {
			continue
		}
		if s.Disposition["attached_pic"] == 1 {
			if fallback == nil {
				fallback = s
			}
			continue
		}
		return s
	}
	return fallback
}

// Containers returns the demuxer names from format_name.
func (r *Result) Containers() []string {
	if r.Format.FormatName == "" {
		return nil
	}
	return strings.Split(r.Format.FormatName, ",")
}

// DurationMillis returns the container duration, falling back to the video
// stream's, in whole milliseconds.
func (r *Result) DurationMillis() (int64, bool) {
	if ms, ok := secondsToMillis(r.Format.Duration); ok {
		return ms, true
	}
	if v := r.Video(); v != nil {
		return secondsToMillis(v.Duration)
	}
	return 0, false
}

// BitRate returns the container bitrate, falling back to the video
// stream's, in bits per second.
func (r *Result) BitRate() (int64, bool) {
	if br, ok := parsePositiveInt(r.Format.BitRate); ok {
		return br, true
	}
	if v := r.Video(); v != nil {
		return parsePositiveInt(v.BitRate)
	}
	return 0, false
}

// Rotation returns the clockwise rotation of the stream in [0,360).
// The display matrix stores the counter-clockwise angle, so it is negated.
// Older muxers write a clockwise "rotate" tag instead.
func (s *Stream) Rotation() int {
	for _, sd := range s.SideData {
		if sd.Type == "Display Matrix" {
			return normalizeDegrees(int(math.Round(-sd.Rotation)))
		}
	}
	if tag, ok := s.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(strings.TrimSpace(tag)); err == nil {
			return normalizeDegrees(deg)
		}
	}
	return 0
}

func secondsToMillis(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, false
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(sec) || math.IsInf(sec, 0) || sec < 0 {
		return 0, false
	}
	return int64(math.Round(sec * 1000)), true
}

func parsePositiveInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func normalizeDegrees(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
