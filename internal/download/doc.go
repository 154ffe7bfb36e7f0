// Package download fetches the bulletin PDF for a date. A single Fetch returns a
// tagged Outcome; the Downloader wraps it in two loops: a short exponential loop
// for transient failures and a long fixed-schedule loop for documents that are
// not published yet.
package download
