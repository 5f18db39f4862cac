package probe

import (
	"time"

	"media-thumbnailer/internal/decoder"
)

// Metadata is the fixed key set returned by extractMetadata. Nil fields are
// omitted from Map, except Duration which is always present.
type Metadata struct {
	Duration *int64
	Width    *int
	Height   *int
	Bitrate  *int64
	Rotation *int
}

// Map returns the metadata in the shape the method channel sends back.
func (m Metadata) Map() map[string]any {
	out := map[string]any{"duration": nil}
	if m.Duration != nil {
		out["duration"] = *m.Duration
	}
	if m.Width != nil {
		out["width"] = *m.Width
	}
	if m.Height != nil {
		out["height"] = *m.Height
	}
	if m.Bitrate != nil {
		out["bitrate"] = *m.Bitrate
	}
	if m.Rotation != nil {
		out["rotation"] = *m.Rotation
	}
	return out
}

// Metadata extracts the fixed key set from a probe result.
func (r *Result) Metadata() Metadata {
	var m Metadata
	if ms, ok := r.DurationMillis(); ok {
		m.Duration = &ms
	}
	if br, ok := r.BitRate(); ok {
		m.Bitrate = &br
	}
	if v := r.Video(); v != nil {
		if v.Width > 0 {
			w := v.Width
			m.Width = &w
		}
		if v.Height > 0 {
			h := v.Height
			m.Height = &h
		}
		rot := v.Rotation()
		m.Rotation = &rot
	}
	return m
}

// StreamInfo converts a probe result into what the frame sources need.
func (r *Result) StreamInfo() *decoder.StreamInfo {
	info := &decoder.StreamInfo{Containers: r.Containers()}
	if ms, ok := r.DurationMillis(); ok {
		info.Duration = time.Duration(ms) * time.Millisecond
		info.DurationKnown = true
	}
	if v := r.Video(); v != nil {
		info.Codec = v.CodecName
		info.Width = v.Width
		info.Height = v.Height
		info.Rotation = quarterTurns(v.Rotation())
	}
	return info
}

// quarterTurns snaps a rotation to the nearest multiple of 90 degrees.
func quarterTurns(deg int) int {
	return normalizeDegrees(((deg + 45) / 90) * 90)
}
