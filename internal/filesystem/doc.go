/*
Package filesystem wraps the stat and open calls the thumbnail dispatcher makes
while validating a request, retrying NFS stale file handle errors (ESTALE)
with exponential backoff.

Media libraries are often NFS mounts. A stale handle during validation would
otherwise surface to the caller as a missing file, which is reported
synchronously as INVALID_ARGUMENTS. Only ESTALE is retried; every other error
is returned on the first attempt.

	err := filesystem.CheckReadable(ctx, "/media/clip.mp4", filesystem.DefaultRetryConfig())

Defaults: 3 retries, 50ms initial backoff, 500ms cap. Backoff sleeps end early
when the context is done.

Metrics are recorded through an Observer registered with SetObserver; the
metrics package supplies one. Paths are labelled by volume using the resolver
set with SetDefaultVolumeResolver.
*/
package filesystem
