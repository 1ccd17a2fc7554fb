// Package logger declares the logging contract shared by coordinators,
// the sender and the infrastructure adapters.
package logger

// Logger exposes logging methods for common severity levels.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Fields builds the structured context attached to a coordinator log line.
func Fields(workflow, group string, sequence int64) map[string]any {
	f := map[string]any{"workflow": workflow}
	if group != "" {
		f["group"] = group
	}
	if sequence != 0 {
		f["sequence"] = sequence
	}
	return f
}
