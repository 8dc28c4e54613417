package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory groups failures by what a caller can do about them.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError is a classified failure of a single directory operation.
type LDAPError struct {
	Operation string
	Category  ErrorCategory
	LDAPCode  uint16 // 0 when the failure never reached the server
	Message   string
	ServerMsg string
	DN        string // matched DN reported by the server
	Retryable bool
	Cause     error
}

func (e *LDAPError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "LDAP %s failed", e.Operation)
	if e.LDAPCode > 0 {
		fmt.Fprintf(&b, " (code %d)", e.LDAPCode)
	}
	if e.Message != "" {
		b.WriteString(" - " + e.Message)
	}
	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		b.WriteString(" - server: " + e.ServerMsg)
	}
	if e.DN != "" {
		b.WriteString(" - DN: " + e.DN)
	}
	return b.String()
}

func (e *LDAPError) IsRetryable() bool { return e.Retryable }

func (e *LDAPError) Unwrap() error { return e.Cause }

// NewLDAPError classifies err and wraps it with the failing operation.
// It returns nil for a nil err.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	e := &LDAPError{Operation: operation, Cause: err}

	var resultErr *ldap.Error
	if !errors.As(err, &resultErr) {
		e.Category = categorizeGenericError(err)
		e.Retryable = isGenericErrorRetryable(err)
		e.Message = err.Error()
		return e
	}

	e.LDAPCode = resultErr.ResultCode
	e.DN = resultErr.MatchedDN
	if resultErr.Err != nil {
		e.ServerMsg = resultErr.Err.Error()
	}
	e.Category = categorizeError(resultErr.ResultCode)
	e.Retryable = retryableCodes[resultErr.ResultCode]
	e.Message = resultCodeMessage(resultErr.ResultCode)
	return e
}

var resultCategories = map[uint16]ErrorCategory{
	ldap.LDAPResultInvalidCredentials:          ErrorCategoryAuthentication,
	ldap.LDAPResultInappropriateAuthentication: ErrorCategoryAuthentication,
	ldap.LDAPResultStrongAuthRequired:          ErrorCategoryAuthentication,
	ldap.LDAPResultAuthMethodNotSupported:      ErrorCategoryAuthentication,

	ldap.LDAPResultInsufficientAccessRights: ErrorCategoryPermission,
	ldap.LDAPResultUnwillingToPerform:       ErrorCategoryPermission,
	ldap.LDAPResultConfidentialityRequired:  ErrorCategoryPermission,

	ldap.LDAPResultNoSuchObject:           ErrorCategoryNotFound,
	ldap.LDAPResultNoSuchAttribute:        ErrorCategoryNotFound,
	ldap.LDAPResultUndefinedAttributeType: ErrorCategoryNotFound,

	ldap.LDAPResultInvalidAttributeSyntax: ErrorCategoryValidation,
	ldap.LDAPResultInvalidDNSyntax:        ErrorCategoryValidation,
	ldap.LDAPResultFilterError:            ErrorCategoryValidation,
	ldap.LDAPResultInappropriateMatching:  ErrorCategoryValidation,

	ldap.LDAPResultServerDown:         ErrorCategoryServer,
	ldap.LDAPResultUnavailable:        ErrorCategoryServer,
	ldap.LDAPResultBusy:               ErrorCategoryServer,
	ldap.LDAPResultTimeLimitExceeded:  ErrorCategoryServer,
	ldap.LDAPResultAdminLimitExceeded: ErrorCategoryServer,
	ldap.LDAPResultSizeLimitExceeded:  ErrorCategoryServer,

	ldap.ErrorNetwork:            ErrorCategoryConnection,
	ldap.LDAPResultConnectError:  ErrorCategoryConnection,
	ldap.LDAPResultProtocolError: ErrorCategoryConnection,
	ldap.LDAPResultTimeout:       ErrorCategoryConnection,
}

var retryableCodes = map[uint16]bool{
	ldap.LDAPResultBusy:              true,
	ldap.LDAPResultUnavailable:       true,
	ldap.LDAPResultServerDown:        true,
	ldap.LDAPResultTimeLimitExceeded: true,
	ldap.LDAPResultConnectError:      true,
	ldap.ErrorNetwork:                true,
}

// resultMessages covers the results a read-only client actually meets;
// anything else falls back to go-ldap's own names.
var resultMessages = map[uint16]string{
	ldap.LDAPResultInvalidCredentials:       "Invalid credentials",
	ldap.LDAPResultStrongAuthRequired:       "Strong authentication required",
	ldap.LDAPResultConfidentialityRequired:  "Confidentiality required, use LDAPS or StartTLS",
	ldap.LDAPResultInsufficientAccessRights: "Insufficient access rights",
	ldap.LDAPResultNoSuchObject:             "Requested object does not exist",
	ldap.LDAPResultInvalidDNSyntax:          "Invalid DN syntax",
	ldap.LDAPResultFilterError:              "Invalid search filter",
	ldap.LDAPResultSizeLimitExceeded:        "Size limit exceeded",
	ldap.LDAPResultTimeLimitExceeded:        "Time limit exceeded",
	ldap.LDAPResultBusy:                     "Server is busy",
	ldap.LDAPResultUnavailable:              "Server is unavailable",
	ldap.LDAPResultServerDown:               "Server is down",
	ldap.ErrorNetwork:                       "Network error",
}

func categorizeError(code uint16) ErrorCategory {
	if category, ok := resultCategories[code]; ok {
		return category
	}
	return ErrorCategoryUnknown
}

func resultCodeMessage(code uint16) string {
	if msg, ok := resultMessages[code]; ok {
		return msg
	}
	if text, ok := ldap.LDAPResultCodeMap[code]; ok {
		return text
	}
	return fmt.Sprintf("Unknown LDAP error (code %d)", code)
}

// categorizeGenericError classifies errors that carry no result code, such
// as dial and Kerberos failures, by their text.
func categorizeGenericError(err error) ErrorCategory {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "connection", "network", "timeout", "broken pipe", "no such host"):
		return ErrorCategoryConnection
	case containsAny(msg, "authentication", "credentials", "password", "kerberos"):
		return ErrorCategoryAuthentication
	case containsAny(msg, "permission", "access", "denied"):
		return ErrorCategoryPermission
	}
	return ErrorCategoryUnknown
}

func isGenericErrorRetryable(err error) bool {
	return containsAny(strings.ToLower(err.Error()),
		"connection", "timeout", "network", "broken pipe", "temporary failure")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsRetryableError reports whether err is worth another attempt.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return isGenericErrorRetryable(err)
}

// GetErrorCategory classifies any error, wrapped or not.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}
	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeError(resultErr.ResultCode)
	}
	return categorizeGenericError(err)
}

func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// ResultCode returns the LDAP result code carried by err, if any.
func ResultCode(err error) (uint16, bool) {
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) && ldapErr.LDAPCode > 0 {
		return ldapErr.LDAPCode, true
	}
	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return resultErr.ResultCode, true
	}
	return 0, false
}

// IsNoSuchObject reports whether err is an LDAP noSuchObject result.
func IsNoSuchObject(err error) bool {
	code, ok := ResultCode(err)
	return ok && code == ldap.LDAPResultNoSuchObject
}
