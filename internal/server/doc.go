// Package server hosts the optional Fiber status endpoint that runs next to a
// pipeline invocation. It only reads state: the run snapshot kept by
// pipeline.Status, cache statistics and the Prometheus registry. A run that
// waits hours for a not-yet-published PDF can be watched through /-/status
// without tailing logs.
package server
