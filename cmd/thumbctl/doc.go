// Command thumbctl runs a single thumbnail or metadata request against local
// media without starting the HTTP server.
//
// It builds the same decoder chain, image pipeline and request dispatcher as
// the server, from the same environment variables and CONFIG_FILE, and
// prints the outcome.
//
// Usage:
//
//	thumbctl <command> [arguments]
//
// Commands:
//
//	generate <uri> <width> <height> [position]
//	        Print the thumbnail as base64 JPEG, the same string the
//	        generateThumbnail channel method returns.
//
//	jpeg <uri> <width> <height> [position]
//	        Write the raw JPEG to stdout. Refuses when stdout is a terminal.
//
//	metadata <uri>
//	        Print the extractMetadata result as JSON.
//
//	tiers   List registered decoder tiers. Configured tiers are numbered in
//	        fallback order.
//
// Relative paths are made absolute against the working directory; file://
// URIs are passed through. Exit status is 0 on success, 1 when the request
// fails and 2 for usage or configuration errors. Failures are printed to
// stderr as "Error: <code>: <message>".
package main
