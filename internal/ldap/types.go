package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// DefaultPageSize is the page size used when ConnectionConfig.PageSize is zero.
const DefaultPageSize uint32 = 1000

// ConnectionConfig describes how to reach and bind to a domain.
//
// Servers come from LDAPURLs when set, otherwise from SRV records of Domain.
// The bind is chosen by GetAuthMethod.
type ConnectionConfig struct {
	Domain   string
	LDAPURLs []string
	BaseDN   string // empty means the RootDSE defaultNamingContext
	Timeout  time.Duration
	PageSize uint32

	// Simple bind, or the Kerberos principal when KerberosRealm is set.
	// Username may be a DN, UPN or DOMAIN\name.
	Username string
	Password string

	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string // krb5.conf
	KerberosCCache string
	KerberosSPN    string // overrides ldap/<host>

	TLSConfig         *tls.Config
	UseTLS            bool // StartTLS on ldap:// connections
	SkipTLS           bool
	TLSCACertFile     string
	TLSClientCertFile string
	TLSClientKeyFile  string

	MaxConnections int
	MaxIdleTime    time.Duration

	// MaxRetries of 0 means every call is attempted exactly once.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultConfig returns a TLS-enabled configuration with retries disabled.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        30 * time.Second,
		PageSize:       DefaultPageSize,
		UseTLS:         true,
		MaxConnections: 4,
		MaxIdleTime:    5 * time.Minute,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		TLSConfig:      &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// PooledConnection is a bound connection borrowed from a ConnectionPool.
// Close hands it back.
type PooledConnection struct {
	conn          *ldap.Conn
	serverInfo    *ServerInfo
	lastUsed      time.Time
	healthy       bool
	authenticated bool
	authTime      time.Time
	returnToPool  func(*PooledConnection)
}

// ServerInfo is one candidate domain controller.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool // ldaps://
	Priority int
	Weight   int
	Source   string // srv, config or fallback
}

// ConnectionPool hands out bound connections.
type ConnectionPool interface {
	Get(ctx context.Context) (*PooledConnection, error)

	// Dial opens an unbound connection the pool does not track.
	Dial(ctx context.Context) (*ldap.Conn, *ServerInfo, error)

	Close() error
	Stats() PoolStats
}

type PoolStats struct {
	Total   int
	Active  int64
	Idle    int
	Created int64
	Errors  int64
	Uptime  time.Duration
}

// Client is the read-only directory transport used by the directory package.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	// VerifyCredentials binds username/password on a connection outside the pool.
	VerifyCredentials(ctx context.Context, username, password string) error

	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	GetBaseDN(ctx context.Context) (string, error)
	WhoAmI(ctx context.Context) (*WhoAmIResult, error)

	Ping(ctx context.Context) error
	Stats() PoolStats
}

type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	SizeLimit    int // 0 is unlimited
	TimeLimit    time.Duration
	DerefAliases DerefAliases
}

type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
	HasMore bool // the size limit cut the result short
}

// WhoAmIResult is the parsed response of the "Who Am I?" extended operation.
type WhoAmIResult struct {
	AuthzID           string `json:"authz_id"`
	Format            string `json:"format"` // dn, upn, sam, sid, empty, unknown
	DN                string `json:"dn,omitempty"`
	UserPrincipalName string `json:"user_principal_name,omitempty"`
	SAMAccountName    string `json:"sam_account_name,omitempty"`
	SID               string `json:"sid,omitempty"`
}

type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	}
	return "unknown"
}

// DerefAliases mirrors the go-ldap alias dereferencing constants.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota
	AuthMethodKerberos
	AuthMethodExternal // TLS client certificate
	AuthMethodAnonymous
)

func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodExternal:
		return "external"
	case AuthMethodAnonymous:
		return "anonymous"
	}
	return "unknown"
}

// GetAuthMethod picks the bind for c.
//
// A realm selects Kerberos, a username and password select a simple bind and
// a client key pair selects EXTERNAL. With nothing configured the current
// user's credential cache is used when present, otherwise the bind is
// anonymous.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	switch {
	case c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.Username != ""):
		return AuthMethodKerberos
	case c.Username != "" && c.Password != "":
		return AuthMethodSimpleBind
	case c.TLSClientCertFile != "" && c.TLSClientKeyFile != "":
		return AuthMethodExternal
	case c.Username == "" && c.Password == "" && fileExists(c.ccachePath()):
		return AuthMethodKerberos
	}
	return AuthMethodAnonymous
}

// HasAuthentication reports whether connections are bound at all.
func (c *ConnectionConfig) HasAuthentication() bool {
	return c.GetAuthMethod() != AuthMethodAnonymous
}

// RetryableError is implemented by errors that know whether a retry can help.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError reports a failure to reach or bind to any server.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{message: message, retryable: retryable, cause: cause}
}

func (e *ConnectionError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *ConnectionError) IsRetryable() bool { return e.retryable }

func (e *ConnectionError) Unwrap() error { return e.cause }
