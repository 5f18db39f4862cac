// Package channel is the method channel between the host and the
// dispatcher. It decodes loosely typed argument maps into requests and
// maps outcomes onto (code, message, details) replies.
//
// Two methods exist, generateThumbnail and extractMetadata. Anything else
// is reported as not implemented.
package channel
