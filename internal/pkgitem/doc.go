// Package pkgitem resolves request paths to package items and memoizes them
// per tenant generation.
//
// A package item is one file of one package, fetched once from the tenant's
// content provider and then served from memory, with its content type, ETag
// and per-path metadata settled at fetch time. Items are immutable and are
// never expired individually: the whole cache is discarded when the tenant
// is reset, which starts a new generation. Within one generation, resolving
// the same path twice returns the same *Item without a second fetch, so a
// deploy that lands mid-generation cannot mix old and new files.
package pkgitem
