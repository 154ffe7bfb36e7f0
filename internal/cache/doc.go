// Package cache implements the disk-backed artifact caches. A Store maps a
// Locator (namespace + file name) onto CacheRoot/<namespace>/<name> and writes
// through a temp file + rename so readers never observe partial files. On top
// of it PDFCache keys downloaded documents by URL digest and MarkdownCache keys
// converted text by source file identity, both with age-based expiry. Janitor
// sweeps the cache directories by raw file mtime.
package cache
