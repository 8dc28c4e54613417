package directory

import (
	"github.com/hashicorp/go-hclog"

	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
)

// DefaultResolvConf is consulted for the host's DNS search domain.
const DefaultResolvConf = "/etc/resolv.conf"

// DefaultSearchLimit caps Search when no positive maximum is given.
const DefaultSearchLimit = 100

// Exporter persists a set of user records under dir and returns the file written.
type Exporter interface {
	WriteFile(dir string, users []*UserRecord) (string, error)
}

// Options holds the immutable parameters of a Service.
type Options struct {
	Domain    string
	Container string
	Username  string
	Password  string

	// Connection carries transport settings. Domain, Username and Password
	// above take precedence over the same fields here.
	Connection *ldapclient.ConnectionConfig

	Logger     hclog.Logger
	PageSize   uint32
	Exporter   Exporter
	ResolvConf string
}

// Option configures a Service.
type Option func(*Options)

// WithDomain sets the DNS domain to query.
func WithDomain(domain string) Option {
	return func(o *Options) { o.Domain = domain }
}

// WithContainer restricts searches to a container, either a full DN or
// relative to the domain naming context (e.g. "OU=Staff").
func WithContainer(container string) Option {
	return func(o *Options) { o.Container = container }
}

// WithCredentials binds as username instead of the current user.
func WithCredentials(username, password string) Option {
	return func(o *Options) {
		o.Username = username
		o.Password = password
	}
}

// WithConnectionConfig supplies full transport configuration.
func WithConnectionConfig(cfg *ldapclient.ConnectionConfig) Option {
	return func(o *Options) { o.Connection = cfg }
}

// WithLogger sets the logger used when the call context carries none.
func WithLogger(logger hclog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithPageSize overrides the paged search size.
func WithPageSize(size uint32) Option {
	return func(o *Options) { o.PageSize = size }
}

// WithExporter sets the writer used by ExportAllUsers.
func WithExporter(e Exporter) Option {
	return func(o *Options) { o.Exporter = e }
}

// WithResolvConf overrides the resolver configuration used for default domain detection.
func WithResolvConf(path string) Option {
	return func(o *Options) { o.ResolvConf = path }
}

// connectionConfig merges the façade options into a transport configuration.
func (o *Options) connectionConfig() (*ldapclient.ConnectionConfig, error) {
	cfg := ldapclient.DefaultConfig()
	if o.Connection != nil {
		copied := *o.Connection
		cfg = &copied
	}

	if o.Domain != "" {
		cfg.Domain = o.Domain
	}
	if o.Username != "" {
		cfg.Username = o.Username
		cfg.Password = o.Password
	}
	if o.PageSize > 0 {
		cfg.PageSize = o.PageSize
	}

	if cfg.Domain == "" && len(cfg.LDAPURLs) == 0 {
		resolvConf := o.ResolvConf
		if resolvConf == "" {
			resolvConf = DefaultResolvConf
		}
		cfg.Domain = ldapclient.DetectDefaultDomain(resolvConf)
		if cfg.Domain == "" {
			return nil, ErrNoDomain
		}
	}

	return cfg, nil
}
