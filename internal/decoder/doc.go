/*
Package decoder defines the frame source abstraction and the fallback chain
that composes the decoding tiers.

A Source turns a file path and a normalised position into one Frame. The
built-in sources live in subpackages and register themselves by name:

  - fastpath ("platform"): narrow codec set, one ffmpeg invocation at a fixed
    time index, ignores the requested position.
  - libav ("libav"): in-process demux and decode through libavformat and
    libavcodec, honouring the position.
  - vlc ("vlc", build tag vlc): libVLC player with snapshot capture.

Build assembles a Chain from a list of names:

	chain, unavailable := decoder.Build([]string{"platform", "libav"}, decoder.Options{})
	frame, err := chain.Frame(ctx, decoder.Target{Path: p, Position: 0.4})
	if err != nil {
		return err
	}
	defer frame.Release()

# Errors

Sources return ErrUnsupported when they cannot handle the media at all and
ErrDecode when they tried and failed. The chain joins the errors of every
tier it tried, so callers classify with errors.Is.

# Native handles

Every native resource a source acquires is registered in a Ledger and
released through its Handle. Scope groups the handles of one decode and
releases them newest first. Ledger.Open reads zero once all requests have
completed; the thumbnail tests assert this.
*/
package decoder
