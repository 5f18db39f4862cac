/*
Package pipeline turns a decoded frame into the thumbnail string returned
to callers.

The steps are fixed:

 1. rotate the frame upright using its clockwise rotation
 2. scale to exactly the requested width and height (aspect ratio is not
    preserved)
 3. encode as JPEG with quality between 80 and 85
 4. base64-encode with the standard alphabet and no line breaks

Two backends implement steps 1-3. The Go backend uses imaging for rotation
and a Catmull-Rom kernel from x/image/draw for scaling. The vips backend
does the same work in libvips and is used when PIPELINE_BACKEND=vips and
InitVips has run; a frame it fails on is retried with the Go backend.

A frame without pixels yields ErrInvalidFrame, which callers report as a
decode failure. Anything that goes wrong afterwards yields ErrEncode.
*/
package pipeline
