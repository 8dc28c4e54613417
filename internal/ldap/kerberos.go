package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"

	"github.com/isometry/ad-userinfo/internal/logging"
)

const defaultKrb5ConfPath = "/etc/krb5.conf"

// kerberosPrincipal is the resolved identity used for a GSSAPI bind.
type kerberosPrincipal struct {
	Username string
	Realm    string
}

// performKerberosAuth performs a GSSAPI bind on conn.
func performKerberosAuth(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	gssapiClient, err := createGSSAPIClient(ctx, cfg)
	if err != nil {
		LogKerberosEvent(ctx, "ticket_acquisition_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	LogKerberosEvent(ctx, "principal_resolved", map[string]any{"spn": spn})

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		LogKerberosEvent(ctx, "authentication_failed", map[string]any{"spn": spn, "error": err.Error()})
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	LogKerberosEvent(ctx, "ticket_acquired", map[string]any{"spn": spn})
	return nil
}

// createGSSAPIClient creates a GSSAPI client.
// Priority order: explicit ccache → default ccache → explicit keytab → default keytab → password.
func createGSSAPIClient(ctx context.Context, cfg *ConnectionConfig) (ldap.GSSAPIClient, error) {
	krb5confPath, err := resolveKrb5Conf(ctx, cfg)
	if err != nil {
		return nil, err
	}

	noFAST := krb5client.DisablePAFXFAST(true)

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		logging.SubsystemDebug(ctx, logging.SubsystemKerberos, "Using explicit credential cache", map[string]any{
			"ccache": cfg.KerberosCCache,
		})
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5confPath, noFAST)
	}

	// The default cache belongs to the current user, so it only applies when
	// no other principal was requested.
	if cfg.Username == "" || cfg.Password == "" {
		if ccache := defaultCCachePath(); fileExists(ccache) {
			logging.SubsystemDebug(ctx, logging.SubsystemKerberos, "Using default credential cache", map[string]any{
				"ccache": ccache,
			})
			return gssapi.NewClientFromCCache(ccache, krb5confPath, noFAST)
		}
	}

	principal, err := resolveKerberosPrincipal(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		LogKerberosEvent(ctx, "keytab_loaded", map[string]any{"keytab": cfg.KerberosKeytab})
		return gssapi.NewClientWithKeytab(principal.Username, principal.Realm, cfg.KerberosKeytab, krb5confPath, noFAST)
	}

	if keytab := defaultKeytabPath(); cfg.Password == "" && fileExists(keytab) {
		LogKerberosEvent(ctx, "keytab_loaded", map[string]any{"keytab": keytab})
		return gssapi.NewClientWithKeytab(principal.Username, principal.Realm, keytab, krb5confPath, noFAST)
	}

	if cfg.Password != "" {
		return gssapi.NewClientWithPassword(principal.Username, principal.Realm, cfg.Password, krb5confPath, noFAST)
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication: " +
		"provide a credential cache, keytab, or password")
}

// resolveKerberosPrincipal splits user@REALM and fills the realm from config.
func resolveKerberosPrincipal(cfg *ConnectionConfig) (kerberosPrincipal, error) {
	if cfg == nil {
		return kerberosPrincipal{}, fmt.Errorf("configuration cannot be nil")
	}

	p := kerberosPrincipal{Username: cfg.Username, Realm: cfg.KerberosRealm}

	if user, realm, ok := strings.Cut(p.Username, "@"); ok {
		p.Username = user
		if p.Realm == "" {
			p.Realm = realm
		}
	}

	if p.Realm == "" && cfg.Domain != "" {
		p.Realm = cfg.Domain
	}
	p.Realm = strings.ToUpper(p.Realm)

	if p.Realm == "" {
		return kerberosPrincipal{}, fmt.Errorf("kerberos realm is required (set kerberos realm, domain, or use user@REALM)")
	}
	if p.Username == "" {
		return kerberosPrincipal{}, fmt.Errorf("username (principal) is required for Kerberos authentication")
	}

	return p, nil
}

// buildServicePrincipal constructs the LDAP service principal name.
// cfg.KerberosSPN overrides the derived ldap/<host> value.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil || serverInfo.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	hostname, _, _ := strings.Cut(serverInfo.Host, ":")
	return "ldap/" + hostname, nil
}

func (c *ConnectionConfig) ccachePath() string {
	if c.KerberosCCache != "" {
		return c.KerberosCCache
	}
	return defaultCCachePath()
}

// defaultCCachePath returns the current user's credential cache location.
func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// defaultKeytabPath returns the default keytab location.
func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
