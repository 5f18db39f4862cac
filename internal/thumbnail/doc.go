// Package thumbnail is the request dispatcher in front of the frame
// sources, the image pipeline and the metadata extractor.
//
// Requests are validated on the caller's goroutine. Invalid ones fail
// immediately, with the callback invoked before GenerateThumbnail or
// ExtractMetadata returns. Accepted requests run on a bounded worker pool
// under a deadline and deliver exactly one outcome through a
// mainloop.Poster. When the deadline passes or the request is cancelled,
// the worker's context is cancelled and it gets a grace window to release
// its native handles before the request completes with a Timeout anyway.
//
// Every failure is an *Error whose Kind is one of InvalidArguments,
// Timeout, DecodeUnsupported, DecodeFailed, EncodeFailed or
// MetadataFailed.
package thumbnail
