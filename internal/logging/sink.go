// Package logging provides the relay's structured event sink: a thin
// wrapper over zap that tags every emitted event with a CEF-like signature
// name, generalizing the teacher's named package-level loggers
// (loggerInfo/loggerError in the ratelimiter) into one sink all components
// share.
package logging

import (
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Signature names a recognizable class of logged event.
type Signature string

const (
	SigInvalidClientID  Signature = "InvalidClientId"
	SigUnknownClientID  Signature = "UnknownClientId"
	SigInvalidChannelID Signature = "InvalidChannelId"
	SigDeleteLog        Signature = "DeleteLog"
	SigReport           Signature = "Report"
	SigBlacklistedIP    Signature = "BlacklistedIP"
)

// Severity is a CEF-style severity level, 0 (lowest) to 10 (highest).
type Severity int

// Sink is the logging collaborator the core consumes. This package supplies
// a concrete, production implementation, but callers depend only on the
// Sink interface so tests can swap in a recorder.
type Sink interface {
	Log(message string, severity Severity, req *http.Request, signature Signature)
}

// ZapSink implements Sink on top of a *zap.Logger, naming the CEF-like
// signature as a structured field the way the teacher names its loggers by
// component.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink wraps an already-configured *zap.Logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("keyexchange")}
}

func (s *ZapSink) Log(message string, severity Severity, req *http.Request, signature Signature) {
	fields := []zap.Field{
		zap.String("signature", string(signature)),
		zap.Int("severity", int(severity)),
	}
	if req != nil {
		fields = append(fields,
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote_addr", req.RemoteAddr),
		)
	}

	level := s.levelFor(severity)
	if ce := s.logger.Check(level, message); ce != nil {
		ce.Write(fields...)
	}
}

func (s *ZapSink) levelFor(severity Severity) zapcore.Level {
	switch {
	case severity >= 7:
		return zapcore.ErrorLevel
	case severity >= 4:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
