package logging

import "net/http"

// NopSink discards every event. Used by tests that don't care about log
// output.
type NopSink struct{}

func (NopSink) Log(string, Severity, *http.Request, Signature) {}

// Recorder keeps every logged event in memory, for assertions in tests.
type Recorder struct {
	Events []RecordedEvent
}

// RecordedEvent is one call captured by Recorder.
type RecordedEvent struct {
	Message   string
	Severity  Severity
	Signature Signature
}

func (r *Recorder) Log(message string, severity Severity, _ *http.Request, signature Signature) {
	r.Events = append(r.Events, RecordedEvent{Message: message, Severity: severity, Signature: signature})
}
