/*
Package fastpath is the first decoding tier, registered as "platform".

It behaves like a platform thumbnail utility: fast, with a narrow set of
containers (mp4, m4v, mov, 3gp, webm) and codecs (h264, vp8, vp9, av1,
mpeg4, h263). Anything else is refused with decoder.ErrUnsupported so the
chain moves on to the codec-rich tier.

A frame is grabbed with one ffmpeg process at a fixed one-second offset,
falling back to the first frame. The requested position is ignored. The
process is killed when the request's context ends.
*/
package fastpath
