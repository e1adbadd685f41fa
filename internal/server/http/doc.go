// Package httpserver implements the daemon's HTTP API. Producers submit
// status updates, consumers deliver acknowledgements, and operators drive
// pause/resume, recovery, framework cleanup, and archive inspection.
package httpserver
