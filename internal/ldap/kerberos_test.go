package ldap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildServicePrincipal(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *ConnectionConfig
		server  *ServerInfo
		want    string
		wantErr bool
	}{
		{"derived from host", &ConnectionConfig{}, &ServerInfo{Host: "dc1.example.com"}, "ldap/dc1.example.com", false},
		{"port stripped", &ConnectionConfig{}, &ServerInfo{Host: "dc1.example.com:389"}, "ldap/dc1.example.com", false},
		{"explicit SPN", &ConnectionConfig{KerberosSPN: "ldap/ad.example.com"}, &ServerInfo{Host: "10.0.0.1"}, "ldap/ad.example.com", false},
		{"explicit SPN without server", &ConnectionConfig{KerberosSPN: "ldap/ad.example.com"}, nil, "ldap/ad.example.com", false},
		{"nil config", nil, &ServerInfo{Host: "dc1"}, "", true},
		{"no host", &ConnectionConfig{}, &ServerInfo{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spn, err := buildServicePrincipal(tt.cfg, tt.server)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, spn)
		})
	}
}

func TestResolveKerberosPrincipal(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *ConnectionConfig
		wantUser  string
		wantRealm string
		wantErr   bool
	}{
		{"realm from UPN", &ConnectionConfig{Username: "jdoe@example.com"}, "jdoe", "EXAMPLE.COM", false},
		{"explicit realm wins", &ConnectionConfig{Username: "jdoe@example.com", KerberosRealm: "corp.example.com"}, "jdoe", "CORP.EXAMPLE.COM", false},
		{"realm from domain", &ConnectionConfig{Username: "jdoe", Domain: "example.com"}, "jdoe", "EXAMPLE.COM", false},
		{"no realm", &ConnectionConfig{Username: "jdoe"}, "", "", true},
		{"no username", &ConnectionConfig{KerberosRealm: "EXAMPLE.COM"}, "", "", true},
		{"nil config", nil, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := resolveKerberosPrincipal(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, p.Username)
			assert.Equal(t, tt.wantRealm, p.Realm)
		})
	}
}

func TestRealmFor(t *testing.T) {
	assert.Equal(t, "EXAMPLE.COM", realmFor(&ConnectionConfig{KerberosRealm: "example.com", Domain: "other.com"}))
	assert.Equal(t, "CORP.EXAMPLE.COM", realmFor(&ConnectionConfig{Username: "jdoe@corp.example.com", Domain: "other.com"}))
	assert.Equal(t, "OTHER.COM", realmFor(&ConnectionConfig{Username: "jdoe", Domain: "other.com"}))
	assert.Empty(t, realmFor(&ConnectionConfig{}))
}

func TestGenerateRuntimeKrb5Conf(t *testing.T) {
	ctx := context.Background()

	conf, err := generateRuntimeKrb5Conf(ctx, "example.com", "")
	require.NoError(t, err)
	assert.Contains(t, conf, "default_realm = EXAMPLE.COM")
	assert.Contains(t, conf, "dns_lookup_kdc = true")
	assert.Contains(t, conf, ".example.com = EXAMPLE.COM")

	conf, err = generateRuntimeKrb5Conf(ctx, "CORP.EXAMPLE.COM", "Corp.Example.com")
	require.NoError(t, err)
	assert.Contains(t, conf, "corp.example.com = CORP.EXAMPLE.COM")

	_, err = generateRuntimeKrb5Conf(ctx, "", "example.com")
	assert.Error(t, err)
}

func TestResolveKrb5Conf_ExplicitPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := resolveKrb5Conf(ctx, &ConnectionConfig{KerberosConfig: filepath.Join(dir, "krb5.conf")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	path := filepath.Join(dir, "custom.conf")
	require.NoError(t, os.WriteFile(path, []byte("[libdefaults]\n"), 0o600))

	got, err := resolveKrb5Conf(ctx, &ConnectionConfig{KerberosConfig: path})
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestDefaultCredentialPaths(t *testing.T) {
	t.Setenv("KRB5CCNAME", "FILE:/tmp/krb5cc_test")
	t.Setenv("KRB5_KTNAME", "FILE:/etc/test.keytab")

	assert.Equal(t, "/tmp/krb5cc_test", defaultCCachePath())
	assert.Equal(t, "/etc/test.keytab", defaultKeytabPath())
	assert.Equal(t, "/tmp/krb5cc_test", (&ConnectionConfig{}).ccachePath())
	assert.Equal(t, "/tmp/explicit", (&ConnectionConfig{KerberosCCache: "/tmp/explicit"}).ccachePath())
}

func TestFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "present")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	assert.True(t, fileExists(path))
	assert.False(t, fileExists(path+".missing"))
	assert.False(t, fileExists(""))
}

func TestGetAuthMethod(t *testing.T) {
	dir := t.TempDir()
	ccache := filepath.Join(dir, "krb5cc")
	require.NoError(t, os.WriteFile(ccache, nil, 0o600))

	t.Setenv("KRB5CCNAME", filepath.Join(dir, "missing"))

	tests := []struct {
		name string
		cfg  *ConnectionConfig
		want AuthMethod
	}{
		{"kerberos keytab", &ConnectionConfig{KerberosRealm: "EXAMPLE.COM", KerberosKeytab: "/etc/krb5.keytab"}, AuthMethodKerberos},
		{"kerberos password", &ConnectionConfig{KerberosRealm: "EXAMPLE.COM", Username: "jdoe", Password: "secret"}, AuthMethodKerberos},
		{"simple bind", &ConnectionConfig{Username: "jdoe@example.com", Password: "secret"}, AuthMethodSimpleBind},
		{"client certificate", &ConnectionConfig{TLSClientCertFile: "cert.pem", TLSClientKeyFile: "key.pem"}, AuthMethodExternal},
		{"explicit credential cache", &ConnectionConfig{KerberosCCache: ccache}, AuthMethodKerberos},
		{"nothing configured", &ConnectionConfig{}, AuthMethodAnonymous},
		{"username without password", &ConnectionConfig{Username: "jdoe"}, AuthMethodAnonymous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.GetAuthMethod())
			assert.Equal(t, tt.want != AuthMethodAnonymous, tt.cfg.HasAuthentication())
		})
	}

	t.Run("default credential cache", func(t *testing.T) {
		t.Setenv("KRB5CCNAME", "FILE:"+ccache)
		assert.Equal(t, AuthMethodKerberos, (&ConnectionConfig{}).GetAuthMethod())
	})
}

func TestAuthMethodString(t *testing.T) {
	assert.Equal(t, "simple", AuthMethodSimpleBind.String())
	assert.Equal(t, "kerberos", AuthMethodKerberos.String())
	assert.Equal(t, "external", AuthMethodExternal.String())
	assert.Equal(t, "anonymous", AuthMethodAnonymous.String())
	assert.Equal(t, "unknown", AuthMethod(99).String())
}
