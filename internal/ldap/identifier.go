package ldap

import (
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// IdentifierType is the syntactic form of an object identifier.
type IdentifierType int

const (
	IdentifierTypeUnknown IdentifierType = iota
	IdentifierTypeDN
	IdentifierTypeGUID
	IdentifierTypeSID
	IdentifierTypeUPN
	IdentifierTypeSAM // name or DOMAIN\name
)

var identifierTypeNames = [...]string{"Unknown", "DN", "GUID", "SID", "UPN", "SAM"}

func (i IdentifierType) String() string {
	if i < 0 || int(i) >= len(identifierTypeNames) {
		return identifierTypeNames[IdentifierTypeUnknown]
	}
	return identifierTypeNames[i]
}

var (
	dnRegex  = regexp.MustCompile(`^(?i)(CN|OU|DC|O|C|STREET|L|ST|POSTALCODE)=.+`)
	sidRegex = regexp.MustCompile(`^S-1-\d+(-\d+)*$`)
	upnRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	// SAM names may contain spaces, as group names often do.
	samRegex = regexp.MustCompile(`^([^\\@]+\\)?[^\\@]+$`)
)

// DetectIdentifierType reports the form of identifier, checking the most
// specific forms first.
func DetectIdentifierType(identifier string) IdentifierType {
	identifier = strings.TrimSpace(identifier)

	switch {
	case identifier == "":
		return IdentifierTypeUnknown
	case dnRegex.MatchString(identifier) && ValidateDNSyntax(identifier) == nil:
		return IdentifierTypeDN
	case isGUID(identifier):
		return IdentifierTypeGUID
	case sidRegex.MatchString(identifier):
		return IdentifierTypeSID
	case upnRegex.MatchString(identifier):
		return IdentifierTypeUPN
	case samRegex.MatchString(identifier):
		return IdentifierTypeSAM
	default:
		return IdentifierTypeUnknown
	}
}

// isGUID accepts only the dashed forms so plain 32 character names are not
// mistaken for GUIDs.
func isGUID(s string) bool {
	if len(s) != 36 && len(s) != 38 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// IdentifierFilter returns an equality filter for identifiers that name an
// object by an indexed attribute: GUID, SID, UPN or SAM. DNs and unknown
// forms return "" since they are not matched by filter.
func IdentifierFilter(identifier string) string {
	identifier = strings.TrimSpace(identifier)

	switch DetectIdentifierType(identifier) {
	case IdentifierTypeGUID:
		filter, err := GUIDFilter(identifier)
		if err != nil {
			return ""
		}
		return filter
	case IdentifierTypeSID:
		// AD accepts the string form of a SID in objectSid filters.
		return "(objectSid=" + ldap.EscapeFilter(identifier) + ")"
	case IdentifierTypeUPN:
		return "(userPrincipalName=" + ldap.EscapeFilter(identifier) + ")"
	case IdentifierTypeSAM:
		if i := strings.LastIndex(identifier, `\`); i >= 0 {
			identifier = identifier[i+1:]
		}
		return "(sAMAccountName=" + ldap.EscapeFilter(identifier) + ")"
	default:
		return ""
	}
}
