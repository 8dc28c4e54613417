package ldap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/isometry/ad-userinfo/internal/logging"
)

// resolveKrb5Conf returns the krb5.conf path to use for a GSSAPI client.
//
// An explicit KerberosConfig must exist. Otherwise /etc/krb5.conf is used when
// present, and as a last resort a DNS-discovery configuration is generated for
// the realm and written to the temp directory.
func resolveKrb5Conf(ctx context.Context, cfg *ConnectionConfig) (string, error) {
	if cfg.KerberosConfig != "" {
		if !fileExists(cfg.KerberosConfig) {
			return "", fmt.Errorf("kerberos configuration file not found at %s", cfg.KerberosConfig)
		}
		return cfg.KerberosConfig, nil
	}

	if fileExists(defaultKrb5ConfPath) {
		return defaultKrb5ConfPath, nil
	}

	realm := realmFor(cfg)
	if realm == "" {
		return "", fmt.Errorf("kerberos configuration file not found at %s and no realm to generate one for", defaultKrb5ConfPath)
	}

	content, err := generateRuntimeKrb5Conf(ctx, realm, cfg.Domain)
	if err != nil {
		return "", err
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("adusers-krb5-%s.conf", strings.ToLower(realm)))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}

	logging.SubsystemDebug(ctx, logging.SubsystemKerberos, "Using generated krb5.conf", map[string]any{
		"path":  path,
		"realm": realm,
	})
	return path, nil
}

// realmFor derives the Kerberos realm from explicit realm, user@REALM or domain.
func realmFor(cfg *ConnectionConfig) string {
	if cfg.KerberosRealm != "" {
		return strings.ToUpper(cfg.KerberosRealm)
	}
	if _, realm, ok := strings.Cut(cfg.Username, "@"); ok && realm != "" {
		return strings.ToUpper(realm)
	}
	return strings.ToUpper(cfg.Domain)
}

// generateRuntimeKrb5Conf renders a krb5.conf that locates KDCs through DNS SRV records.
func generateRuntimeKrb5Conf(ctx context.Context, realm, domain string) (string, error) {
	if realm == "" {
		return "", fmt.Errorf("kerberos realm is required for auto-discovery")
	}

	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	logging.SubsystemDebug(ctx, logging.SubsystemKerberos, "Generating runtime krb5.conf", map[string]any{
		"realm":  realm,
		"domain": domain,
	})

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false

[realms]
    %[1]s = {
    }

[domain_realm]
    .%[2]s = %[1]s
    %[2]s = %[1]s
`, realm, domain), nil
}
