package ports

import "context"

// Fields is a set of structured key/value pairs attached to a log record.
type Fields = map[string]interface{}

// Logger is the logging capability every component receives by injection.
// Only the first Fields argument is used; it is variadic so call sites without
// fields stay short.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	// Error logs err alongside msg at Error level.
	Error(ctx context.Context, err error, msg string, fields ...Fields)
}
