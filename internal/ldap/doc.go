/*
Package ldap provides the Active Directory transport used by the directory package.

# Connection Management

The Client interface provides pooled, read-only access to a domain:

  - SRV-based domain controller discovery with a fallback to the domain name
  - Connection pooling with health checks and re-authentication
  - Simple, Kerberos (ccache, keytab or password), external and anonymous binds
  - Optional retry with exponential backoff (disabled by default)

Credential checks use VerifyCredentials, which always binds on a fresh
connection that never enters the pool.

# Attribute Codecs

AD stores several attributes in binary or Windows-specific encodings:

  - objectSid via SIDToString and SIDFilter
  - objectGUID via GUIDFromBytes (mixed-endian)
  - FILETIME and GeneralizedTime via ParseTimestamp
  - userAccountControl flags via the UAC* constants

# Error Handling

Errors from the server are wrapped in LDAPError, which carries an
ErrorCategory and a retryable flag.

# Example Usage

	client, err := ldap.NewClient(ctx, &ldap.ConnectionConfig{
		Domain:   "example.com",
		Username: "svc-reader@example.com",
		Password: "secret",
	})
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.SearchWithPaging(ctx, &ldap.SearchRequest{
		BaseDN:     "DC=example,DC=com",
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     "(&(objectCategory=person)(objectClass=user))",
		Attributes: []string{"sAMAccountName"},
	})
*/
package ldap
