// Package objstore is the S3-compatible object store adapter used for archive
// listing and fetches as well as SQL file uploads
//
// Design choices:
//   - minio-go Core for ListObjectsV2 so the caller drives start-after and continuation tokens.
//   - Every Client owns its own http.Transport; Factory.Fresh therefore yields a new
//     connection pool, used by the export stage after repeated put failures.
//   - Errors are mapped through perr.FromObjectStore so retry decisions use perr.Retryable.
//   - CachedStore keeps fetched objects on disk with a total-bytes cap.
//   - Memory is an in-process store with failure injection for tests and dry local runs.
package objstore
