// Package log provides Relay's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by Go's
// standard library slog via a bridge handler that preserves the
// formatter/outputs pipeline, so output stays consistent across the
// codebase while remaining compatible with the slog ecosystem.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("manager"), log.Str("stream", "task-1"))
//	l.Info("stream recovered", log.Int("pending", 3))
//
// # Interop
//
// To integrate with libraries expecting *log.Logger, use RedirectStdLog.
package log
