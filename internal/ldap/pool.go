package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// MaxConnectionPoolLimit caps ConnectionConfig.MaxConnections.
const MaxConnectionPoolLimit = 100

// maxAuthAge is how long a pooled bind is trusted before it is repeated.
const maxAuthAge = 5 * time.Minute

type connectionPool struct {
	ctx       context.Context // for logging outside a call
	config    *ConnectionConfig
	tlsConfig *tls.Config
	idle      chan *PooledConnection

	mu      sync.RWMutex
	servers []*ServerInfo
	closed  bool

	active  atomic.Int64
	created atomic.Int64
	failed  atomic.Int64
	started time.Time
}

// NewConnectionPool resolves the servers for config and returns an empty
// pool. Connections are opened lazily by Get and Dial.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig) (ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tlsConfig, err := prepareTLSConfig(config)
	if err != nil {
		return nil, err
	}

	servers, err := resolveServers(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	p := &connectionPool{
		ctx:       ctx,
		config:    config,
		tlsConfig: tlsConfig,
		idle:      make(chan *PooledConnection, config.MaxConnections),
		servers:   servers,
		started:   time.Now(),
	}

	LogPoolEvent(ctx, "pool_initialized", map[string]any{
		"servers":         len(servers),
		"max_connections": config.MaxConnections,
		"auth_method":     config.GetAuthMethod().String(),
	})
	return p, nil
}

// validateConfig rejects settings the pool cannot work with.
func validateConfig(c *ConnectionConfig) error {
	checks := []struct {
		bad bool
		msg string
	}{
		{c.MaxConnections <= 0, "MaxConnections must be positive"},
		{c.MaxConnections > MaxConnectionPoolLimit, fmt.Sprintf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)},
		{c.MaxIdleTime <= 0, "MaxIdleTime must be positive"},
		{c.Timeout <= 0, "timeout must be positive"},
		{c.MaxRetries < 0, "MaxRetries cannot be negative"},
		{c.MaxRetries > 0 && c.BackoffFactor <= 1.0, "BackoffFactor must be greater than 1.0"},
	}
	for _, check := range checks {
		if check.bad {
			return errors.New(check.msg)
		}
	}
	return nil
}

// prepareTLSConfig copies the configured TLS settings and adds the CA file
// and client key pair, if any.
func prepareTLSConfig(config *ConnectionConfig) (*tls.Config, error) {
	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if tlsConfig.RootCAs == nil {
		roots, err := buildCertPool(config.TLSCACertFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = roots
	}

	if config.TLSClientCertFile == "" || config.TLSClientKeyFile == "" {
		return tlsConfig, nil
	}
	cert, err := tls.LoadX509KeyPair(config.TLSClientCertFile, config.TLSClientKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	tlsConfig.Certificates = append(tlsConfig.Certificates, cert)
	return tlsConfig, nil
}

// buildCertPool returns the system roots plus the PEM certificates in caFile.
func buildCertPool(caFile string) (*x509.CertPool, error) {
	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}
	if caFile == "" {
		return roots, nil
	}

	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file %s: %w", caFile, err)
	}
	if !roots.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("invalid PEM format in CA certificate file %s", caFile)
	}
	return roots, nil
}

// resolveServers parses the configured URLs, or looks up SRV records for the
// domain when there are none.
func resolveServers(ctx context.Context, config *ConnectionConfig) ([]*ServerInfo, error) {
	if len(config.LDAPURLs) > 0 {
		servers := make([]*ServerInfo, 0, len(config.LDAPURLs))
		for _, u := range config.LDAPURLs {
			server, err := ParseLDAPURL(u)
			if err != nil {
				return nil, fmt.Errorf("invalid LDAP URL %s: %w", u, err)
			}
			servers = append(servers, server)
		}
		return servers, nil
	}

	if config.Domain == "" {
		return nil, errors.New("either domain or LDAP URLs must be specified")
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	servers, err := NewSRVDiscovery().DiscoverServers(ctx, config.Domain)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, errors.New("no servers discovered")
	}
	return servers, nil
}

func (p *connectionPool) serverList() []*ServerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.servers
}

func (p *connectionPool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Get returns an idle connection when a usable one is waiting, otherwise a
// newly bound one. Binds older than maxAuthAge are repeated first.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	if p.isClosed() {
		return nil, errors.New("connection pool is closed")
	}

	select {
	case pc := <-p.idle:
		if reused := p.reuse(ctx, pc); reused != nil {
			return reused, nil
		}
	default:
	}
	return p.open(ctx)
}

func (p *connectionPool) reuse(ctx context.Context, pc *PooledConnection) *PooledConnection {
	if !p.usable(pc) {
		discard(pc)
		return nil
	}
	if p.config.HasAuthentication() && needsReAuthentication(pc) {
		if err := p.bind(ctx, pc); err != nil {
			discard(pc)
			return nil
		}
	}

	pc.lastUsed = time.Now()
	p.active.Add(1)
	LogPoolEvent(ctx, "connection_reused", map[string]any{"server": pc.serverInfo.Host})
	return pc
}

// Dial opens an unbound connection outside the pool. The caller closes it.
func (p *connectionPool) Dial(ctx context.Context) (*ldap.Conn, *ServerInfo, error) {
	var lastErr error
	for _, server := range p.serverList() {
		conn, err := p.dial(ctx, server)
		if err == nil {
			return conn, server, nil
		}
		lastErr = err
		p.failed.Add(1)
	}
	return nil, nil, NewConnectionError("failed to connect to any server", true, lastErr)
}

// open tries every server in order, making MaxRetries further rounds with
// backoff when all of them fail.
func (p *connectionPool) open(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for round := 0; ; round++ {
		for _, server := range p.serverList() {
			pc, err := p.openOn(ctx, server)
			if err != nil {
				lastErr = err
				p.failed.Add(1)
				LogPoolEvent(ctx, "connection_failed", map[string]any{
					"server": ServerInfoToURL(server),
					"error":  err.Error(),
				})
				continue
			}
			p.created.Add(1)
			p.active.Add(1)
			return pc, nil
		}

		if round >= p.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
	}

	LogPoolEvent(ctx, "all_connections_failed", map[string]any{"servers": len(p.serverList())})
	return nil, NewConnectionError("failed to create connection", true, lastErr)
}

// dial connects to server over LDAPS, or over LDAP upgraded with StartTLS
// unless TLS is disabled.
func (p *connectionPool) dial(ctx context.Context, server *ServerInfo) (*ldap.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url := ServerInfoToURL(server)
	tlsConfig := p.tlsConfig.Clone()
	if !tlsConfig.InsecureSkipVerify {
		tlsConfig.ServerName = server.Host
	}

	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: p.config.Timeout})}
	if server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(url, opts...)
	if err == nil && !server.UseTLS && p.config.UseTLS && !p.config.SkipTLS {
		if err = conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	conn.SetTimeout(p.config.Timeout)
	LogConnectionEvent(ctx, "connection_established", map[string]any{"server": url})
	return conn, nil
}

func (p *connectionPool) openOn(ctx context.Context, server *ServerInfo) (*PooledConnection, error) {
	conn, err := p.dial(ctx, server)
	if err != nil {
		return nil, err
	}

	pc := &PooledConnection{
		conn:         conn,
		serverInfo:   server,
		lastUsed:     time.Now(),
		healthy:      true,
		returnToPool: p.release,
	}
	if !p.config.HasAuthentication() {
		return pc, nil
	}
	if err := p.bind(ctx, pc); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to authenticate connection to %s: %w", ServerInfoToURL(server), err)
	}
	return pc, nil
}

// bind authenticates pc with the configured method.
func (p *connectionPool) bind(ctx context.Context, pc *PooledConnection) error {
	if pc == nil || pc.conn == nil {
		return errors.New("connection is nil")
	}

	method := p.config.GetAuthMethod()
	var err error
	switch method {
	case AuthMethodAnonymous:
		return nil
	case AuthMethodSimpleBind:
		err = pc.conn.Bind(p.config.Username, p.config.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(ctx, pc.conn, p.config, pc.serverInfo)
	case AuthMethodExternal:
		err = pc.conn.ExternalBind()
	default:
		return fmt.Errorf("unsupported authentication method: %s", method)
	}

	fields := map[string]any{"auth_method": method.String(), "username": p.config.Username}
	if err != nil {
		pc.authenticated, pc.authTime = false, time.Time{}
		fields["error"] = err.Error()
		LogConnectionEvent(ctx, "authentication_failed", fields)
		return NewLDAPError("bind", err)
	}

	pc.authenticated, pc.authTime = true, time.Now()
	LogConnectionEvent(ctx, "authentication_success", fields)
	return nil
}

func needsReAuthentication(pc *PooledConnection) bool {
	return pc == nil || !pc.authenticated || time.Since(pc.authTime) > maxAuthAge
}

// release parks pc as idle, or closes it when the pool is full, closed or pc
// has gone bad.
func (p *connectionPool) release(pc *PooledConnection) {
	if pc == nil {
		return
	}
	p.active.Add(-1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.usable(pc) {
		discard(pc)
		return
	}

	pc.lastUsed = time.Now()
	select {
	case p.idle <- pc:
	default:
		discard(pc)
	}
}

func (p *connectionPool) usable(pc *PooledConnection) bool {
	return pc != nil && pc.conn != nil && pc.healthy && !pc.conn.IsClosing() &&
		time.Since(pc.lastUsed) <= p.config.MaxIdleTime
}

func discard(pc *PooledConnection) {
	if pc == nil || pc.conn == nil {
		return
	}
	pc.conn.Close()
	pc.healthy, pc.authenticated, pc.authTime = false, false, time.Time{}
}

// Close closes idle connections. Borrowed connections are closed as they
// are handed back.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	close(p.idle)
	for pc := range p.idle {
		discard(pc)
	}

	LogPoolEvent(p.ctx, "pool_closed", map[string]any{
		"created": p.created.Load(),
		"errors":  p.failed.Load(),
	})
	return nil
}

func (p *connectionPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	idle := 0
	if !p.closed {
		idle = len(p.idle)
	}
	active := p.active.Load()

	return PoolStats{
		Total:   idle + int(active),
		Active:  active,
		Idle:    idle,
		Created: p.created.Load(),
		Errors:  p.failed.Load(),
		Uptime:  time.Since(p.started),
	}
}

// Close hands the connection back to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

func (pc *PooledConnection) Conn() *ldap.Conn { return pc.conn }
