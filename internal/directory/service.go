// Package directory is a read-only façade over Active Directory user lookups.
//
// Lookups return (nil, nil) when nothing matches and wrap transport failures
// in *DirectoryOperationError. Probes (Exists, IsEnabled, IsLockedOut,
// IsUserInGroup, ValidateCredentials, UserPhoto) fail closed: any error is
// logged at debug level and reported as false or nil.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"

	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
	"github.com/isometry/ad-userinfo/internal/logging"
)

const userObjectFilter = "(objectCategory=person)(objectClass=user)"

// Service answers user queries against one domain and search scope.
// It is safe for concurrent use.
type Service struct {
	client ldapclient.Client
	opts   Options
	config *ldapclient.ConnectionConfig
	logger hclog.Logger

	mu     sync.Mutex
	baseDN string
}

// New connects a Service. Without WithDomain the current user's domain is
// detected; without WithCredentials the current user's Kerberos ticket is
// used when present, otherwise the bind is anonymous.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger != nil {
		ctx = logging.WithLogger(ctx, o.Logger)
	}

	cfg, err := o.connectionConfig()
	if err != nil {
		return nil, err
	}

	client, err := ldapclient.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to domain %q: %w", cfg.Domain, err)
	}

	return newService(client, cfg, o), nil
}

// NewDefault connects to the current user's domain as the current user.
func NewDefault(ctx context.Context, opts ...Option) (*Service, error) {
	return New(ctx, opts...)
}

// NewForDomain connects to domain as the current user.
func NewForDomain(ctx context.Context, domain string, opts ...Option) (*Service, error) {
	return New(ctx, append([]Option{WithDomain(domain)}, opts...)...)
}

// NewForDomainContainer connects to domain, scoped to container, as the current user.
func NewForDomainContainer(ctx context.Context, domain, container string, opts ...Option) (*Service, error) {
	return New(ctx, append([]Option{WithDomain(domain), WithContainer(container)}, opts...)...)
}

// NewWithCredentials connects to domain as username.
func NewWithCredentials(ctx context.Context, domain, username, password string, opts ...Option) (*Service, error) {
	return New(ctx, append([]Option{WithDomain(domain), WithCredentials(username, password)}, opts...)...)
}

// NewWithContainerAndCredentials connects to domain, scoped to container, as username.
func NewWithContainerAndCredentials(ctx context.Context, domain, container, username, password string, opts ...Option) (*Service, error) {
	return New(ctx, append([]Option{
		WithDomain(domain),
		WithContainer(container),
		WithCredentials(username, password),
	}, opts...)...)
}

func newService(client ldapclient.Client, cfg *ldapclient.ConnectionConfig, o Options) *Service {
	return &Service{
		client: client,
		opts:   o,
		config: cfg,
		logger: o.Logger,
	}
}

// Close releases all pooled connections.
func (s *Service) Close() error {
	return s.client.Close()
}

// Path describes the search scope in ADSI path form.
func (s *Service) Path() string {
	switch {
	case s.opts.Domain != "" && s.opts.Container != "":
		return "LDAP://" + s.opts.Domain + "/" + s.opts.Container
	case s.opts.Domain != "":
		return "LDAP://" + s.opts.Domain
	default:
		return "LDAP://RootDSE"
	}
}

// BaseDN returns the DN searches are rooted at. The naming context is read
// from the root DSE once and falls back to the domain's DC= form.
func (s *Service) BaseDN(ctx context.Context) (string, error) {
	ctx = s.context(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseDN != "" {
		return s.baseDN, nil
	}

	container := s.opts.Container
	root := s.config.BaseDN
	if root == "" && !strings.Contains(strings.ToUpper(container), "DC=") {
		var err error
		root, err = s.client.GetBaseDN(ctx)
		if err != nil {
			root = ldapclient.DomainToBaseDN(s.config.Domain)
			if root == "" {
				return "", err
			}
			logging.SubsystemDebug(ctx, logging.SubsystemDirectory, "Using base DN derived from domain", map[string]any{
				"base_dn": root,
				"error":   err.Error(),
			})
		}
	}

	s.baseDN = ldapclient.ContainerBaseDN(container, root)
	return s.baseDN, nil
}

// context attaches the service logger unless ctx already carries one.
func (s *Service) context(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.logger != nil && hclog.FromContext(ctx) == hclog.L() {
		return logging.WithLogger(ctx, s.logger)
	}
	return ctx
}

// userFilter restricts clause to user objects.
func userFilter(clause string) string {
	return "(&" + userObjectFilter + clause + ")"
}

// accountName strips a NetBIOS domain prefix: "CORP\jdoe" becomes "jdoe".
func accountName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// findEntries runs a paged subtree search under the base DN.
func (s *Service) findEntries(ctx context.Context, filter string, attributes []string, limit int) ([]*ldap.Entry, error) {
	baseDN, err := s.BaseDN(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.client.SearchWithPaging(ctx, &ldapclient.SearchRequest{
		BaseDN:     baseDN,
		Scope:      ldapclient.ScopeWholeSubtree,
		Filter:     filter,
		Attributes: attributes,
		SizeLimit:  limit,
		TimeLimit:  s.config.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// findEntry returns the first entry matching filter, or nil.
func (s *Service) findEntry(ctx context.Context, filter string, attributes []string) (*ldap.Entry, error) {
	baseDN, err := s.BaseDN(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.client.Search(ctx, &ldapclient.SearchRequest{
		BaseDN:     baseDN,
		Scope:      ldapclient.ScopeWholeSubtree,
		Filter:     filter,
		Attributes: attributes,
		SizeLimit:  1,
		TimeLimit:  s.config.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}
	return result.Entries[0], nil
}

// readEntry reads dn itself. A missing object yields nil.
func (s *Service) readEntry(ctx context.Context, dn, filter string, attributes []string) (*ldap.Entry, error) {
	result, err := s.client.Search(ctx, &ldapclient.SearchRequest{
		BaseDN:     dn,
		Scope:      ldapclient.ScopeBaseObject,
		Filter:     filter,
		Attributes: attributes,
		SizeLimit:  1,
		TimeLimit:  s.config.Timeout,
	})
	if err != nil {
		if ldapclient.IsNoSuchObject(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}
	return result.Entries[0], nil
}

func (s *Service) records(ctx context.Context, entries []*ldap.Entry) []*UserRecord {
	records := make([]*UserRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, toRecord(ctx, entry))
	}
	return records
}

func (s *Service) userByFilter(ctx context.Context, filter string) (*UserRecord, error) {
	entry, err := s.findEntry(ctx, userFilter(filter), userAttributes)
	if err != nil || entry == nil {
		return nil, err
	}
	return toRecord(ctx, entry), nil
}

// UserByUsername looks up a user by sAMAccountName. "DOMAIN\user" is accepted.
func (s *Service) UserByUsername(ctx context.Context, username string) (*UserRecord, error) {
	ctx = s.context(ctx)
	name := accountName(username)
	if name == "" {
		return nil, nil
	}

	user, err := s.userByFilter(ctx, "(sAMAccountName="+ldap.EscapeFilter(name)+")")
	if err != nil {
		return nil, opError("retrieving user by username", username, err)
	}
	return user, nil
}

// UserByEmail returns the first user found by UsersByEmail.
func (s *Service) UserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	users, err := s.usersByEmail(s.context(ctx), email)
	if err != nil {
		return nil, opError("retrieving user by email", email, err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0], nil
}

// UsersByEmail matches userPrincipalName exactly, then mail. Results are
// de-duplicated by account name with the UPN match first.
func (s *Service) UsersByEmail(ctx context.Context, email string) ([]*UserRecord, error) {
	users, err := s.usersByEmail(s.context(ctx), email)
	if err != nil {
		return nil, opError("searching users by email", email, err)
	}
	return users, nil
}

func (s *Service) usersByEmail(ctx context.Context, email string) ([]*UserRecord, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	escaped := ldap.EscapeFilter(email)

	var users []*UserRecord
	seen := make(map[string]bool)
	add := func(r *UserRecord) {
		key := strings.ToLower(r.Account())
		if key == "" {
			key = strings.ToLower(deref(r.DistinguishedName))
		}
		if seen[key] {
			return
		}
		seen[key] = true
		users = append(users, r)
	}

	byUPN, err := s.userByFilter(ctx, "(userPrincipalName="+escaped+")")
	if err != nil {
		return nil, err
	}
	if byUPN != nil {
		add(byUPN)
	}

	entries, err := s.findEntries(ctx, userFilter("(mail="+escaped+")"), userAttributes, 0)
	if err != nil {
		return nil, err
	}
	for _, r := range s.records(ctx, entries) {
		add(r)
	}

	return users, nil
}

// UserByEmployeeID looks up a user by employeeID.
func (s *Service) UserByEmployeeID(ctx context.Context, employeeID string) (*UserRecord, error) {
	ctx = s.context(ctx)
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, nil
	}

	user, err := s.userByFilter(ctx, "(employeeID="+ldap.EscapeFilter(employeeID)+")")
	if err != nil {
		return nil, opError("retrieving user by employee ID", employeeID, err)
	}
	return user, nil
}

// UserByDN reads the user object at dn.
func (s *Service) UserByDN(ctx context.Context, dn string) (*UserRecord, error) {
	ctx = s.context(ctx)
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return nil, nil
	}
	if err := ldapclient.ValidateDNSyntax(dn); err != nil {
		return nil, opError("retrieving user by distinguished name", dn, err)
	}

	entry, err := s.readEntry(ctx, dn, userFilter(""), userAttributes)
	if err != nil {
		return nil, opError("retrieving user by distinguished name", dn, err)
	}
	if entry == nil {
		return nil, nil
	}
	return toRecord(ctx, entry), nil
}

// probeFailed logs a swallowed probe error.
func probeFailed(ctx context.Context, probe, key string, err error) {
	logging.SubsystemDebug(ctx, logging.SubsystemDirectory, "Probe failed, returning negative result", map[string]any{
		"probe":    probe,
		"key":      key,
		"category": string(ldapclient.GetErrorCategory(err)),
		"error":    err.Error(),
	})
}

// Exists reports whether username exists. Errors yield false.
func (s *Service) Exists(ctx context.Context, username string) bool {
	ctx = s.context(ctx)
	user, err := s.UserByUsername(ctx, username)
	if err != nil {
		probeFailed(ctx, "exists", username, err)
		return false
	}
	return user != nil
}

// ExistsByEmail reports whether any user matches email. Errors yield false.
func (s *Service) ExistsByEmail(ctx context.Context, email string) bool {
	ctx = s.context(ctx)
	users, err := s.UsersByEmail(ctx, email)
	if err != nil {
		probeFailed(ctx, "exists_by_email", email, err)
		return false
	}
	return len(users) > 0
}

// IsEnabled reports whether username exists and is enabled. Errors yield false.
func (s *Service) IsEnabled(ctx context.Context, username string) bool {
	ctx = s.context(ctx)
	user, err := s.UserByUsername(ctx, username)
	if err != nil {
		probeFailed(ctx, "is_enabled", username, err)
		return false
	}
	return user != nil && user.IsEnabled != nil && *user.IsEnabled
}

// IsLockedOut reports whether username exists and is locked out. Errors yield false.
func (s *Service) IsLockedOut(ctx context.Context, username string) bool {
	ctx = s.context(ctx)
	user, err := s.UserByUsername(ctx, username)
	if err != nil {
		probeFailed(ctx, "is_locked_out", username, err)
		return false
	}
	return user != nil && user.IsLockedOut != nil && *user.IsLockedOut
}

// UsersByDepartment returns users whose department matches exactly.
func (s *Service) UsersByDepartment(ctx context.Context, department string) ([]*UserRecord, error) {
	ctx = s.context(ctx)
	department = strings.TrimSpace(department)
	if department == "" {
		return nil, nil
	}

	entries, err := s.findEntries(ctx, userFilter("(department="+ldap.EscapeFilter(department)+")"), userAttributes, 0)
	if err != nil {
		return nil, opError("retrieving users by department", department, err)
	}
	return s.records(ctx, entries), nil
}

// DirectReports resolves each DN in the manager's directReports attribute.
// Reports that cannot be resolved are skipped.
func (s *Service) DirectReports(ctx context.Context, manager string) ([]*UserRecord, error) {
	ctx = s.context(ctx)
	mgr, err := s.UserByUsername(ctx, manager)
	if err != nil {
		return nil, opError("retrieving direct reports of manager", manager, errors.Unwrap(err))
	}
	if mgr == nil {
		return nil, nil
	}

	reports := make([]*UserRecord, 0, len(mgr.DirectReports))
	for _, dn := range mgr.DirectReports {
		report, err := s.UserByDN(ctx, dn)
		if err != nil {
			logging.SubsystemDebug(ctx, logging.SubsystemDirectory, "Skipping unresolvable direct report", map[string]any{
				"manager": manager,
				"dn":      dn,
				"error":   err.Error(),
			})
			continue
		}
		if report == nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Search matches term as a substring of displayName, sAMAccountName or cn,
// returning at most maxResults users (DefaultSearchLimit when maxResults <= 0).
func (s *Service) Search(ctx context.Context, term string, maxResults int) ([]*UserRecord, error) {
	ctx = s.context(ctx)
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = DefaultSearchLimit
	}

	t := ldap.EscapeFilter(term)
	filter := userFilter(fmt.Sprintf("(|(displayName=*%s*)(sAMAccountName=*%s*)(cn=*%s*))", t, t, t))

	entries, err := s.findEntries(ctx, filter, userAttributes, maxResults)
	if err != nil {
		return nil, opError("searching users", term, err)
	}
	if len(entries) > maxResults {
		entries = entries[:maxResults]
	}
	return s.records(ctx, entries), nil
}

// ValidateCredentials reports whether username and password bind
// successfully on a fresh connection. Errors and empty passwords yield false.
func (s *Service) ValidateCredentials(ctx context.Context, username, password string) bool {
	ctx = s.context(ctx)
	if strings.TrimSpace(username) == "" || password == "" {
		return false
	}

	if err := s.client.VerifyCredentials(ctx, s.bindName(username), password); err != nil {
		if !ldapclient.IsAuthenticationError(err) {
			logging.SubsystemWarn(ctx, logging.SubsystemDirectory, "Credential check could not reach a verdict", map[string]any{
				"username": username,
				"error":    err.Error(),
			})
		}
		probeFailed(ctx, "validate_credentials", username, err)
		return false
	}
	return true
}

// bindName qualifies a bare account name as a UPN in the configured domain.
func (s *Service) bindName(username string) string {
	username = strings.TrimSpace(username)
	if strings.ContainsAny(username, `@\=`) || s.config.Domain == "" {
		return username
	}
	return username + "@" + s.config.Domain
}

// UserPhoto returns the raw thumbnailPhoto of username. Errors yield nil.
func (s *Service) UserPhoto(ctx context.Context, username string) []byte {
	ctx = s.context(ctx)
	name := accountName(username)
	if name == "" {
		return nil
	}

	entry, err := s.findEntry(ctx, userFilter("(sAMAccountName="+ldap.EscapeFilter(name)+")"), []string{"thumbnailPhoto"})
	if err != nil {
		probeFailed(ctx, "photo", username, err)
		return nil
	}
	if entry == nil {
		return nil
	}

	photo, _ := rawValue(entry, "thumbnailPhoto")
	return photo
}

// AllUsers returns every user under the search scope. Entries without a
// sAMAccountName are skipped.
func (s *Service) AllUsers(ctx context.Context) ([]*UserRecord, error) {
	ctx = s.context(ctx)

	entries, err := s.findEntries(ctx, userFilter(""), userAttributes, 0)
	if err != nil {
		return nil, opError("retrieving all users", "", err)
	}

	users := make([]*UserRecord, 0, len(entries))
	for _, entry := range entries {
		if _, ok := firstValue(entry, "sAMAccountName"); !ok {
			continue
		}
		users = append(users, toRecord(ctx, entry))
	}

	logging.SubsystemDebug(ctx, logging.SubsystemDirectory, "Enumerated users", map[string]any{
		"entries": len(entries),
		"users":   len(users),
	})
	return users, nil
}

// WhoAmI reports the identity the service is bound as.
func (s *Service) WhoAmI(ctx context.Context) (*ldapclient.WhoAmIResult, error) {
	result, err := s.client.WhoAmI(s.context(ctx))
	if err != nil {
		return nil, opError("retrieving current identity", "", err)
	}
	return result, nil
}

// ExportAllUsers writes every user under the search scope to a file in dir
// and returns its path.
func (s *Service) ExportAllUsers(ctx context.Context, dir string) (string, error) {
	ctx = s.context(ctx)
	if s.opts.Exporter == nil {
		return "", opError("exporting users to Excel", "", ErrNoExporter)
	}

	users, err := s.AllUsers(ctx)
	if err != nil {
		return "", opError("exporting users to Excel", "", errors.Unwrap(err))
	}

	path, err := s.opts.Exporter.WriteFile(dir, users)
	if err != nil {
		return "", opError("exporting users to Excel", "", err)
	}

	logging.SubsystemInfo(ctx, logging.SubsystemDirectory, "Exported users", map[string]any{
		"path":  path,
		"users": len(users),
	})
	return path, nil
}
