// Package logging wires hashicorp/go-hclog into the rest of the module.
//
// Loggers travel in the context. Call sites use the Subsystem* helpers with a
// subsystem name and an optional map of structured fields, for example:
//
//	logging.SubsystemDebug(ctx, "ldap", "Starting search", map[string]any{"filter": f})
package logging

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Subsystem names used across the module.
const (
	SubsystemLDAP      = "ldap"
	SubsystemKerberos  = "kerberos"
	SubsystemPool      = "pool"
	SubsystemDirectory = "directory"
	SubsystemExport    = "export"
	SubsystemCLI       = "cli"
)

// Options configures the root logger.
type Options struct {
	Name   string
	Level  string    // trace, debug, info, warn, error, off
	Format string    // text or json
	Output io.Writer // defaults to os.Stderr
	Color  bool
}

// New builds an hclog root logger from opts.
func New(opts Options) (hclog.Logger, error) {
	level := hclog.Warn
	if opts.Level != "" {
		level = hclog.LevelFromString(opts.Level)
		if level == hclog.NoLevel {
			return nil, fmt.Errorf("invalid log level %q", opts.Level)
		}
	}

	var jsonFormat bool
	switch strings.ToLower(opts.Format) {
	case "", "text":
	case "json":
		jsonFormat = true
	default:
		return nil, fmt.Errorf("invalid log format %q, must be text or json", opts.Format)
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	color := hclog.ColorOff
	if opts.Color && !jsonFormat {
		color = hclog.AutoColor
	}

	name := opts.Name
	if name == "" {
		name = "adusers"
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     output,
		JSONFormat: jsonFormat,
		Color:      color,
	}), nil
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger hclog.Logger) context.Context {
	return hclog.WithContext(ctx, logger)
}

// FromContext returns the logger stored in ctx, or the hclog default.
func FromContext(ctx context.Context) hclog.Logger {
	if ctx == nil {
		return hclog.L()
	}
	return hclog.FromContext(ctx)
}

// Subsystem returns the named child logger for subsystem.
func Subsystem(ctx context.Context, subsystem string) hclog.Logger {
	return FromContext(ctx).Named(subsystem)
}

func SubsystemTrace(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Trace(msg, flatten(fields)...)
}

func SubsystemDebug(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Debug(msg, flatten(fields)...)
}

func SubsystemInfo(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Info(msg, flatten(fields)...)
}

func SubsystemWarn(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Warn(msg, flatten(fields)...)
}

func SubsystemError(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Error(msg, flatten(fields)...)
}

// SubsystemLog logs at a level chosen at runtime.
func SubsystemLog(ctx context.Context, subsystem string, level hclog.Level, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Log(level, msg, flatten(fields)...)
}

// flatten turns field maps into hclog key/value pairs with sorted keys.
// Later maps override earlier ones.
func flatten(fields []map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}

	merged := make(map[string]any)
	for _, f := range fields {
		maps.Copy(merged, f)
	}

	args := make([]any, 0, len(merged)*2)
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		args = append(args, k, merged[k])
	}
	return args
}
