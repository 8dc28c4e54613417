package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// FirstRDNValue returns the value of the leading RDN, e.g. "Sales" for
// "CN=Sales,OU=Groups,DC=example,DC=com".
func FirstRDNValue(dn string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}
	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", fmt.Errorf("DN has no RDN: %q", dn)
	}
	return parsed.RDNs[0].Attributes[0].Value, nil
}

// ExtractRDNValue extracts the value of the first RDN component with the specified attribute type.
func ExtractRDNValue(dn, attrType string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, attrType) {
				return attr.Value, nil
			}
		}
	}

	return "", fmt.Errorf("attribute type '%s' not found in DN '%s'", attrType, dn)
}

// DomainToBaseDN converts a DNS domain to its naming context,
// e.g. "corp.example.com" to "DC=corp,DC=example,DC=com".
func DomainToBaseDN(domain string) string {
	domain = strings.Trim(strings.TrimSpace(domain), ".")
	if domain == "" {
		return ""
	}

	labels := strings.Split(domain, ".")
	rdns := make([]string, 0, len(labels))
	for _, label := range labels {
		rdns = append(rdns, "DC="+label)
	}
	return strings.Join(rdns, ",")
}

// ContainerBaseDN resolves a container to a full DN. Containers that already
// carry a DC= component are returned as-is; relative containers such as
// "OU=Staff" are joined to baseDN.
func ContainerBaseDN(container, baseDN string) string {
	container = strings.TrimSpace(container)
	if container == "" {
		return baseDN
	}
	if baseDN == "" {
		return container
	}
	if _, err := ExtractRDNValue(container, "DC"); err == nil {
		return container
	}
	return container + "," + baseDN
}
