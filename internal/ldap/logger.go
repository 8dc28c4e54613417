package ldap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"

	"github.com/isometry/ad-userinfo/internal/logging"
)

// LogOperation runs fn and logs its outcome and duration under subsystem.
// fields is updated in place with the operation, duration and any error.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation
	logging.SubsystemDebug(ctx, subsystem, "Starting operation", fields)

	start := time.Now()
	err := fn()
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		logging.SubsystemError(ctx, subsystem, "Operation failed", SanitizeFields(fields))
		return err
	}
	logging.SubsystemDebug(ctx, subsystem, "Operation completed successfully", fields)
	return nil
}

// LogPerformance records how long an operation took, warning past 5s.
func LogPerformance(ctx context.Context, subsystem, operation string, duration time.Duration, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation
	fields["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 5*time.Second:
		logging.SubsystemWarn(ctx, subsystem, "Slow operation detected", fields)
	case duration > time.Second:
		logging.SubsystemInfo(ctx, subsystem, "Operation performance", fields)
	default:
		logging.SubsystemDebug(ctx, subsystem, "Operation performance", fields)
	}
}

// LogLDAPError logs err with any result code, matched DN and diagnostic
// message the server attached.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation
	fields["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		fields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			fields["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	logging.SubsystemError(ctx, subsystem, "LDAP operation failed", SanitizeFields(fields))
}

// eventLevels overrides the per-subsystem default level of lifecycle events.
var eventLevels = map[string]hclog.Level{
	"connection_established": hclog.Info,
	"authentication_success": hclog.Info,
	"connection_failed":      hclog.Warn,
	"authentication_failed":  hclog.Warn,

	"ticket_acquired":           hclog.Info,
	"keytab_loaded":             hclog.Info,
	"ticket_acquisition_failed": hclog.Error,
	"principal_resolved":        hclog.Debug,

	"pool_initialized":       hclog.Debug,
	"connection_acquired":    hclog.Debug,
	"connection_released":    hclog.Debug,
	"pool_closed":            hclog.Debug,
	"pool_exhausted":         hclog.Warn,
	"health_check_failed":    hclog.Warn,
	"all_connections_failed": hclog.Error,
}

func logEvent(ctx context.Context, subsystem, msg, event string, fallback hclog.Level, fields map[string]any) {
	level, ok := eventLevels[event]
	if !ok {
		level = fallback
	}
	logging.SubsystemLog(ctx, subsystem, level, msg, withEvent(fields, event))
}

// LogConnectionEvent logs connect and bind events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	logEvent(ctx, logging.SubsystemLDAP, "Connection event", event, hclog.Debug, fields)
}

// LogKerberosEvent logs ticket and keytab events. A failed GSSAPI bind is an
// error here, unlike a failed simple bind.
func LogKerberosEvent(ctx context.Context, event string, fields map[string]any) {
	if event == "authentication_failed" {
		logging.SubsystemError(ctx, logging.SubsystemKerberos, "Kerberos event", withEvent(fields, event))
		return
	}
	logEvent(ctx, logging.SubsystemKerberos, "Kerberos event", event, hclog.Trace, fields)
}

// LogPoolEvent logs pool lifecycle events.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	logEvent(ctx, logging.SubsystemPool, "Pool event", event, hclog.Trace, fields)
}

func withEvent(fields map[string]any, event string) map[string]any {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["event"] = event
	return fields
}

var sensitiveKeys = map[string]bool{
	"password":    true,
	"passwd":      true,
	"secret":      true,
	"token":       true,
	"key":         true,
	"private_key": true,
	"credential":  true,
	"credentials": true,
}

var sensitivePatterns = []string{"password=", "passwd=", "secret=", "token=", "key="}

// SanitizeFields returns a copy of fields with secrets replaced by [REDACTED],
// matching either the key or a key=value fragment inside a string value.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if sensitiveKeys[strings.ToLower(k)] || (isString && containsAny(strings.ToLower(s), sensitivePatterns...)) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}
	return sanitized
}
