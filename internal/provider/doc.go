// Package provider abstracts where tenant package files and gateway
// configuration files physically live.
//
// A Provider fetches a file by path within a named package (one repository
// or directory per package) at an optional revision, and fetches
// configuration files from the provider's configured config location.
// Revisions are carried on the path as a query-style suffix:
//
//	client/index.html?ref=v1.2.0
//
// Providers fail soft. Every failure, whether the file is missing or the
// transport broke, is reported as an error matching ErrNotFound so callers
// can treat it as "resource does not exist" without special-casing each
// backend. The underlying cause stays in the chain for logging.
//
// Implementations:
//   - FileSystem: {root}/{package}/{path} on local disk
//   - GitHub:     authenticated contents API or unauthenticated raw content
//   - S3:         s3://{root}/{package}/{ref}/{path}
package provider
