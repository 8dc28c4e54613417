package ldap

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ad-userinfo/internal/logging"
)

// Paged searches give up after either bound and return what they have.
const (
	maxSearchDuration = 30 * time.Minute
	maxPagesPerSearch = 1000
)

var sidPattern = regexp.MustCompile(`^S-\d+-\d+-\d+(-\d+)*$`)

// ErrEmptyPassword is returned by VerifyCredentials for an empty password,
// which a directory would otherwise treat as an unauthenticated bind.
var ErrEmptyPassword = errors.New("password cannot be empty")

type client struct {
	pool   ConnectionPool
	config *ConnectionConfig
}

// NewClient returns a Client backed by a connection pool for config.
// A nil config means DefaultConfig.
func NewClient(ctx context.Context, config *ConnectionConfig) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logging.SubsystemDebug(ctx, logging.SubsystemLDAP, "Creating directory client", map[string]any{
		"domain":          config.Domain,
		"ldap_urls_count": len(config.LDAPURLs),
		"auth_method":     config.GetAuthMethod().String(),
		"use_tls":         config.UseTLS,
		"max_connections": config.MaxConnections,
	})

	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return newClientWithPool(pool, config), nil
}

func newClientWithPool(pool ConnectionPool, config *ConnectionConfig) *client {
	return &client{pool: pool, config: config}
}

func (c *client) borrow(ctx context.Context) (*PooledConnection, error) {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// Connect checks that a bound connection can be obtained and can read the
// root DSE.
func (c *client) Connect(ctx context.Context) error {
	fields := map[string]any{"domain": c.config.Domain}
	return LogOperation(ctx, logging.SubsystemLDAP, "connection_test", fields, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		defer conn.Close()
		return readRootDSE(conn.Conn())
	})
}

func (c *client) Close() error { return c.pool.Close() }

func (c *client) Stats() PoolStats { return c.pool.Stats() }

// VerifyCredentials simple-binds username on a fresh connection that is
// discarded afterwards, so the pool's own identity is never replaced.
func (c *client) VerifyCredentials(ctx context.Context, username, password string) error {
	switch {
	case username == "":
		return errors.New("username cannot be empty")
	case password == "":
		return ErrEmptyPassword
	}

	fields := map[string]any{"username": username}
	return LogOperation(ctx, logging.SubsystemLDAP, "verify_credentials", fields, func() error {
		conn, _, err := c.pool.Dial(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := conn.Bind(username, password); err != nil {
			return NewLDAPError("bind", err)
		}
		return nil
	})
}

func (c *client) Ping(ctx context.Context) error {
	conn, err := c.borrow(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return readRootDSE(conn.Conn())
}

func readRootDSE(conn *ldap.Conn) error {
	_, err := conn.Search(ldap.NewSearchRequest("", ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, 5, false, "(objectClass=*)", []string{"defaultNamingContext"}, nil))
	return err
}

// traced runs a search and logs its outcome. Failures are logged with their
// LDAP diagnostics, successes with entry counts and timing.
func (c *client) traced(ctx context.Context, operation string, req *SearchRequest, run func() (*SearchResult, error)) (*SearchResult, error) {
	fields := map[string]any{
		"operation":  operation,
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": len(req.Attributes),
		"size_limit": req.SizeLimit,
	}
	logging.SubsystemDebug(ctx, logging.SubsystemLDAP, "Starting search operation", fields)

	start := time.Now()
	result, err := run()
	if err != nil {
		LogLDAPError(ctx, logging.SubsystemLDAP, operation, err, fields)
		return nil, err
	}

	fields["entries_found"] = len(result.Entries)
	fields["has_more"] = result.HasMore
	LogPerformance(ctx, logging.SubsystemLDAP, operation, time.Since(start), fields)
	return result, nil
}

// execute sends one search request on conn, retrying per the config.
func (c *client) execute(ctx context.Context, conn *ldap.Conn, req *SearchRequest, sizeLimit int, controls []ldap.Control) (*ldap.SearchResult, error) {
	ldapReq := ldap.NewSearchRequest(req.BaseDN, int(req.Scope), int(req.DerefAliases),
		sizeLimit, int(req.TimeLimit.Seconds()), false, req.Filter, req.Attributes, controls)

	var result *ldap.SearchResult
	err := c.withRetry(ctx, func() (err error) {
		result, err = conn.Search(ldapReq)
		return err
	})
	return result, err
}

// Search runs a single unpaged search.
//
// A sizeLimitExceeded response still returns the entries received, with
// HasMore set.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	return c.traced(ctx, "search", req, func() (*SearchResult, error) {
		conn, err := c.borrow(ctx)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		result, err := c.execute(ctx, conn.Conn(), req, req.SizeLimit, nil)
		truncated := err != nil && result != nil && ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded)
		if err != nil && !truncated {
			return nil, NewLDAPError("search", err)
		}

		n := len(result.Entries)
		return &SearchResult{
			Entries: result.Entries,
			Total:   n,
			HasMore: truncated || (req.SizeLimit > 0 && n >= req.SizeLimit),
		}, nil
	})
}

// SearchWithPaging runs a search with the simple paged results control.
// A positive SizeLimit stops paging once that many entries are collected.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	return c.traced(ctx, "paged_search", req, func() (*SearchResult, error) {
		conn, err := c.borrow(ctx)
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		return c.collectPages(ctx, conn.Conn(), req)
	})
}

func (c *client) collectPages(ctx context.Context, conn *ldap.Conn, req *SearchRequest) (*SearchResult, error) {
	pageSize := c.config.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	paging := ldap.NewControlPaging(pageSize)

	var entries []*ldap.Entry
	started := time.Now()
	reported := started
	progress := func(pages int) map[string]any {
		return map[string]any{
			"filter":          req.Filter,
			"pages_completed": pages,
			"entries_found":   len(entries),
			"elapsed_seconds": int(time.Since(started).Seconds()),
		}
	}

	for page := 1; ; page++ {
		if page > maxPagesPerSearch || time.Since(started) > maxSearchDuration {
			logging.SubsystemError(ctx, logging.SubsystemLDAP, "Paged search exceeded limits, terminating", progress(page-1))
			return &SearchResult{Entries: entries, Total: len(entries), HasMore: true}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := c.execute(ctx, conn, req, 0, []ldap.Control{paging})
		if err != nil {
			return nil, NewLDAPError("paged_search", err)
		}
		entries = append(entries, result.Entries...)

		if req.SizeLimit > 0 && len(entries) >= req.SizeLimit {
			return &SearchResult{Entries: entries[:req.SizeLimit], Total: req.SizeLimit, HasMore: true}, nil
		}

		if page%10 == 0 || time.Since(reported) >= 10*time.Second {
			logging.SubsystemInfo(ctx, logging.SubsystemLDAP, "Paged search in progress", progress(page))
			reported = time.Now()
		}

		next, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(next.Cookie) == 0 {
			return &SearchResult{Entries: entries, Total: len(entries)}, nil
		}
		paging.SetCookie(next.Cookie)
	}
}

// withRetry calls op until it succeeds, fails permanently or MaxRetries
// retries are spent. Backoff grows by BackoffFactor up to MaxBackoff.
func (c *client) withRetry(ctx context.Context, op func() error) error {
	backoff := c.config.InitialBackoff

	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || attempt >= c.config.MaxRetries || !shouldRetry(err) {
			return err
		}

		logging.SubsystemDebug(ctx, logging.SubsystemLDAP, "Retrying operation", map[string]any{
			"attempt":    attempt + 1,
			"max_retry":  c.config.MaxRetries,
			"backoff_ms": backoff.Milliseconds(),
			"last_error": err.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
	}
}

// shouldRetry trusts the result code when there is one.
func shouldRetry(err error) bool {
	if code, ok := ResultCode(err); ok {
		return retryableCodes[code]
	}
	return IsRetryableError(err)
}

// WhoAmI runs the "Who Am I?" extended operation (RFC 4532) as the pool's
// bound identity.
func (c *client) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	conn, err := c.borrow(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var result *ldap.WhoAmIResult
	err = c.withRetry(ctx, func() (err error) {
		result, err = conn.Conn().WhoAmI(nil)
		return err
	})
	if err != nil {
		return nil, NewLDAPError("whoami", err)
	}
	if result == nil {
		return nil, errors.New("whoami returned no result")
	}
	return ParseAuthzID(result.AuthzID), nil
}

// ParseAuthzID classifies an authorization identity as dn, upn, sam or sid.
func ParseAuthzID(authzID string) *WhoAmIResult {
	r := &WhoAmIResult{AuthzID: authzID, Format: "empty"}
	if authzID == "" {
		return r
	}

	id := strings.TrimPrefix(strings.TrimPrefix(authzID, "dn:"), "u:")
	upper := strings.ToUpper(id)
	isDN := strings.Contains(id, "=") && containsAny(upper, "CN=", "OU=", "DC=")

	switch {
	case isDN:
		r.Format, r.DN = "dn", id
	case strings.Contains(id, "@") && !strings.Contains(id, `\`):
		r.Format, r.UserPrincipalName = "upn", id
	case strings.Contains(id, `\`):
		r.Format, r.SAMAccountName = "sam", id
	case sidPattern.MatchString(id):
		r.Format, r.SID = "sid", id
	default:
		r.Format = "unknown"
	}
	return r
}

// GetBaseDN returns the configured base DN, or the defaultNamingContext of
// the root DSE when none is configured.
func (c *client) GetBaseDN(ctx context.Context) (string, error) {
	if c.config.BaseDN != "" {
		return c.config.BaseDN, nil
	}

	result, err := c.Search(ctx, &SearchRequest{
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"defaultNamingContext"},
		SizeLimit:  1,
		TimeLimit:  5 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get base DN: %w", err)
	}
	if len(result.Entries) == 0 {
		return "", errors.New("root DSE not returned")
	}

	baseDN := result.Entries[0].GetAttributeValue("defaultNamingContext")
	if baseDN == "" {
		return "", errors.New("root DSE has no defaultNamingContext")
	}
	return baseDN, nil
}
