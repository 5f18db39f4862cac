/*
Package probe extracts container and stream attributes with ffprobe.

	p := probe.New("ffprobe", nil)
	meta, err := p.Extract(ctx, "/media/clip.mp4")
	// meta.Map() -> {"duration": 10000, "width": 1280, "height": 720,
	//                "bitrate": 1843200, "rotation": 0}

Duration is reported in milliseconds, rounded, taken from the container and
then from the video stream; when neither knows it the "duration" key is
present with a nil value. Bitrate is in bits per second. Rotation is
clockwise degrees, read from the display matrix side data or the legacy
"rotate" tag. Width, height and rotation are omitted for files without a
video stream.

The same probe feeds decoder.StreamInfo through Prober.Inspect, which the
fast path uses to decide whether it can handle a file.

Each ffprobe run is counted in the decoder handle ledger for as long as the
process is alive.
*/
package probe
