// Package memory keeps the Go heap inside a container memory limit.
//
// [Configure] derives GOMEMLIMIT from MEMORY_LIMIT (bytes, usually from the
// Kubernetes Downward API) and MEMORY_RATIO (default 0.85). The remainder of
// the container limit stays free for native allocations: libav decoders,
// libvips buffers, and the ffmpeg/ffprobe children. An explicit GOMEMLIMIT
// environment variable always wins.
//
//	env:
//	- name: MEMORY_LIMIT
//	  valueFrom:
//	    resourceFieldRef:
//	      resource: limits.memory
//
// [Monitor] samples heap allocation against the limit. Above the critical
// watermark it pauses; the dispatcher calls [Monitor.Wait] with the request
// context before decoding, so queued requests hold off (and may time out)
// instead of allocating more frames. The pause lifts once usage falls below
// the high watermark.
package memory
