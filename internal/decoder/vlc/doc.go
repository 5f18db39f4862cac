/*
Package vlc is an optional decoding tier backed by libVLC, registered as
"vlc" when the binary is built with the vlc build tag:

	go build -tags vlc

One libVLC instance is shared by the process and created on first use
under a mutex. Each request gets its own media and player, which walk
through parse, play, seek, settle and capture. libVLC events are forwarded
into one channel that the current state waits on, bounded by the request
context. The frame is captured with a player snapshot written to a
temporary PNG.
*/
package vlc
