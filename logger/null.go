package logger

// Discard drops every entry. Tests and callers that pass no logger get it.
var Discard Logger = discard{}

type discard struct{}

// NewNullLogger returns Discard.
func NewNullLogger() Logger { return Discard }

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
