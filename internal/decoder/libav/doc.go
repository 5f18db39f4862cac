/*
Package libav is the codec-rich decoding tier, registered as "libav".

It opens the file in-process with libavformat, picks the first video
stream and decodes it with libavcodec configured for thumbnailing: one
decoder thread, in-loop filter and IDCT skipped, no filter graph. Packets
from other streams are dropped without being decoded.

A decode is a small state machine driven by a single loop:

	open -> probe -> seek -> decode -> capture -> done

The request context is checked before every transition and between
packets. The seek goes to duration*position on the keyframe before it;
decoding then runs forward until a frame at or past that time appears, or
until end of stream, in which case the decoder is drained and the last
frame is used. Media with an unknown or zero duration yields its first
frame.

Every libav object is registered in the decoder handle ledger and released
when the decode finishes, whichever state it stopped in.
*/
package libav
