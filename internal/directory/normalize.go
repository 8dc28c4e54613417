package directory

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
	"github.com/isometry/ad-userinfo/internal/logging"
)

// stringAttributes maps single-valued string attributes onto record fields.
var stringAttributes = []struct {
	name  string
	field func(*UserRecord) **string
}{
	{"sAMAccountName", func(r *UserRecord) **string { return &r.SamAccountName }},
	{"userPrincipalName", func(r *UserRecord) **string { return &r.UserPrincipalName }},
	{"displayName", func(r *UserRecord) **string { return &r.DisplayName }},
	{"givenName", func(r *UserRecord) **string { return &r.FirstName }},
	{"sn", func(r *UserRecord) **string { return &r.LastName }},
	{"middleName", func(r *UserRecord) **string { return &r.MiddleName }},
	{"mail", func(r *UserRecord) **string { return &r.Email }},
	{"employeeID", func(r *UserRecord) **string { return &r.EmployeeID }},
	{"employeeNumber", func(r *UserRecord) **string { return &r.EmployeeNumber }},
	{"employeeType", func(r *UserRecord) **string { return &r.EmployeeType }},
	{"department", func(r *UserRecord) **string { return &r.Department }},
	{"title", func(r *UserRecord) **string { return &r.Title }},
	{"title", func(r *UserRecord) **string { return &r.JobTitle }},
	{"company", func(r *UserRecord) **string { return &r.Company }},
	{"division", func(r *UserRecord) **string { return &r.Division }},
	{"o", func(r *UserRecord) **string { return &r.Organization }},
	{"manager", func(r *UserRecord) **string { return &r.ManagerDistinguishedName }},
	{"physicalDeliveryOfficeName", func(r *UserRecord) **string { return &r.OfficeLocation }},
	{"streetAddress", func(r *UserRecord) **string { return &r.StreetAddress }},
	{"l", func(r *UserRecord) **string { return &r.City }},
	{"st", func(r *UserRecord) **string { return &r.State }},
	{"postalCode", func(r *UserRecord) **string { return &r.PostalCode }},
	{"co", func(r *UserRecord) **string { return &r.Country }},
	{"c", func(r *UserRecord) **string { return &r.CountryCode }},
	{"postOfficeBox", func(r *UserRecord) **string { return &r.PostOfficeBox }},
	{"telephoneNumber", func(r *UserRecord) **string { return &r.TelephoneNumber }},
	{"mobile", func(r *UserRecord) **string { return &r.MobilePhone }},
	{"homePhone", func(r *UserRecord) **string { return &r.HomePhone }},
	{"facsimileTelephoneNumber", func(r *UserRecord) **string { return &r.FaxNumber }},
	{"ipPhone", func(r *UserRecord) **string { return &r.IPPhone }},
	{"pager", func(r *UserRecord) **string { return &r.Pager }},
	{"homeDirectory", func(r *UserRecord) **string { return &r.HomeDirectory }},
	{"homeDrive", func(r *UserRecord) **string { return &r.HomeDrive }},
	{"profilePath", func(r *UserRecord) **string { return &r.ProfilePath }},
	{"scriptPath", func(r *UserRecord) **string { return &r.ScriptPath }},
	{"description", func(r *UserRecord) **string { return &r.Description }},
	{"info", func(r *UserRecord) **string { return &r.Info }},
}

// multiAttributes maps multi-valued attributes onto record fields, order preserved.
var multiAttributes = []struct {
	name  string
	field func(*UserRecord) *[]string
}{
	{"directReports", func(r *UserRecord) *[]string { return &r.DirectReports }},
	{"otherTelephone", func(r *UserRecord) *[]string { return &r.OtherTelephones }},
	{"proxyAddresses", func(r *UserRecord) *[]string { return &r.ProxyAddressList }},
	{"memberOf", func(r *UserRecord) *[]string { return &r.MemberOf }},
}

// timeAttributes maps single-valued time attributes onto record fields.
var timeAttributes = []struct {
	name  string
	field func(*UserRecord) **time.Time
}{
	{"accountExpires", func(r *UserRecord) **time.Time { return &r.AccountExpirationDate }},
	{"pwdLastSet", func(r *UserRecord) **time.Time { return &r.LastPasswordSet }},
	{"badPasswordTime", func(r *UserRecord) **time.Time { return &r.BadPasswordTime }},
	{"lockoutTime", func(r *UserRecord) **time.Time { return &r.LockoutTime }},
	{"whenCreated", func(r *UserRecord) **time.Time { return &r.WhenCreated }},
	{"whenChanged", func(r *UserRecord) **time.Time { return &r.WhenChanged }},
}

const extensionAttributeCount = 15

// extraAttributes are requested but not mapped to named fields; they surface in AdditionalProperties.
var extraAttributes = []string{"cn", "logonCount", "primaryGroupID", "wWWHomePage", "userWorkstations"}

// userAttributes is the attribute list requested for full user records.
// mappedAttributes holds the lowercased names consumed by named record fields.
var userAttributes, mappedAttributes = buildUserAttributes()

func buildUserAttributes() ([]string, map[string]bool) {
	mapped := []string{
		"distinguishedName", "objectGUID", "objectSid",
		"userAccountControl", "msDS-User-Account-Control-Computed",
		"lastLogon", "lastLogonTimestamp", "badPwdCount", "thumbnailPhoto",
	}
	for _, a := range stringAttributes {
		mapped = append(mapped, a.name)
	}
	for _, a := range multiAttributes {
		mapped = append(mapped, a.name)
	}
	for _, a := range timeAttributes {
		mapped = append(mapped, a.name)
	}
	for i := 1; i <= extensionAttributeCount; i++ {
		mapped = append(mapped, fmt.Sprintf("extensionAttribute%d", i))
	}

	seen := make(map[string]bool, len(mapped))
	var attrs []string
	for _, a := range mapped {
		if key := strings.ToLower(a); !seen[key] {
			seen[key] = true
			attrs = append(attrs, a)
		}
	}

	return append(attrs, extraAttributes...), seen
}

// attribute returns the named attribute, matched case-insensitively.
func attribute(entry *ldap.Entry, name string) *ldap.EntryAttribute {
	for _, attr := range entry.Attributes {
		if strings.EqualFold(attr.Name, name) {
			return attr
		}
	}
	return nil
}

func firstValue(entry *ldap.Entry, name string) (string, bool) {
	attr := attribute(entry, name)
	if attr == nil || len(attr.Values) == 0 {
		return "", false
	}
	return attr.Values[0], true
}

func rawValue(entry *ldap.Entry, name string) ([]byte, bool) {
	attr := attribute(entry, name)
	if attr == nil || len(attr.ByteValues) == 0 {
		return nil, false
	}
	return attr.ByteValues[0], true
}

func intValue(entry *ldap.Entry, name string) (int64, bool, error) {
	v, ok := firstValue(entry, name)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, true, nil
}

// safely runs one attribute extraction, logging and discarding any error or panic.
func safely(ctx context.Context, name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			logging.SubsystemDebug(ctx, logging.SubsystemDirectory, "Recovered while reading attribute", map[string]any{
				"attribute": name,
				"panic":     fmt.Sprint(p),
			})
		}
	}()

	if err := fn(); err != nil {
		logging.SubsystemDebug(ctx, logging.SubsystemDirectory, "Failed to read attribute", map[string]any{
			"attribute": name,
			"error":     err.Error(),
		})
	}
}

// toRecord converts a directory entry into a UserRecord.
func toRecord(ctx context.Context, entry *ldap.Entry) *UserRecord {
	r := &UserRecord{}
	if entry == nil {
		return r
	}

	safely(ctx, "distinguishedName", func() error {
		if entry.DN != "" {
			r.DistinguishedName = ptr(entry.DN)
		} else if v, ok := firstValue(entry, "distinguishedName"); ok {
			r.DistinguishedName = ptr(v)
		}
		return nil
	})

	for _, a := range stringAttributes {
		safely(ctx, a.name, func() error {
			if v, ok := firstValue(entry, a.name); ok {
				*a.field(r) = ptr(v)
			}
			return nil
		})
	}

	for _, a := range multiAttributes {
		safely(ctx, a.name, func() error {
			if attr := attribute(entry, a.name); attr != nil && len(attr.Values) > 0 {
				*a.field(r) = append([]string(nil), attr.Values...)
			}
			return nil
		})
	}

	for _, a := range timeAttributes {
		safely(ctx, a.name, func() error {
			if v, ok := firstValue(entry, a.name); ok {
				if t, ok := ldapclient.ParseTimestamp(v); ok {
					*a.field(r) = ptr(t)
				}
			}
			return nil
		})
	}

	// Manager carries the manager's DN, as the directory stores it.
	if r.ManagerDistinguishedName != nil {
		r.Manager = ptr(*r.ManagerDistinguishedName)
	}

	safely(ctx, "userAccountControl", func() error {
		return applyUserAccountControl(entry, r)
	})

	safely(ctx, "lockout", func() error {
		return applyLockout(entry, r)
	})

	safely(ctx, "lastLogon", func() error {
		var latest *time.Time
		for _, name := range []string{"lastLogon", "lastLogonTimestamp"} {
			v, ok := firstValue(entry, name)
			if !ok {
				continue
			}
			if t, ok := ldapclient.ParseTimestamp(v); ok && (latest == nil || t.After(*latest)) {
				latest = ptr(t)
			}
		}
		r.LastLogonDate = latest
		return nil
	})

	safely(ctx, "badPwdCount", func() error {
		n, ok, err := intValue(entry, "badPwdCount")
		if ok && err == nil {
			r.BadPasswordCount = ptr(int(n))
		}
		return err
	})

	safely(ctx, "objectGUID", func() error {
		raw, ok := rawValue(entry, "objectGUID")
		if !ok {
			return nil
		}
		guid, err := ldapclient.GUIDFromBytes(raw)
		if err != nil {
			return err
		}
		r.ObjectGUID = ptr(guid.String())
		return nil
	})

	safely(ctx, "objectSid", func() error {
		raw, ok := rawValue(entry, "objectSid")
		if !ok {
			return nil
		}
		sid, err := ldapclient.SIDToString(raw)
		if err != nil {
			return err
		}
		r.ObjectSID = ptr(sid)
		return nil
	})

	safely(ctx, "thumbnailPhoto", func() error {
		if raw, ok := rawValue(entry, "thumbnailPhoto"); ok {
			r.ThumbnailPhoto = ptr(base64.StdEncoding.EncodeToString(raw))
		}
		return nil
	})

	safely(ctx, "proxyAddresses", func() error {
		if len(r.ProxyAddressList) > 0 {
			r.ProxyAddresses = ptr(r.ProxyAddressList[0])
		}
		return nil
	})

	safely(ctx, "groups", func() error {
		for _, dn := range r.MemberOf {
			name, err := ldapclient.FirstRDNValue(dn)
			if err != nil {
				// Groups stays index-aligned with MemberOf.
				logging.SubsystemDebug(ctx, logging.SubsystemDirectory, "Unparseable memberOf value kept verbatim", map[string]any{
					"dn":    dn,
					"error": err.Error(),
				})
				name = dn
			}
			r.Groups = append(r.Groups, name)
		}
		return nil
	})

	for i := 1; i <= extensionAttributeCount; i++ {
		name := fmt.Sprintf("extensionAttribute%d", i)
		safely(ctx, name, func() error {
			if v, ok := firstValue(entry, name); ok && v != "" {
				if r.ExtensionAttributes == nil {
					r.ExtensionAttributes = make(map[string]string)
				}
				r.ExtensionAttributes[name] = v
			}
			return nil
		})
	}

	safely(ctx, "additionalProperties", func() error {
		for _, attr := range entry.Attributes {
			if mappedAttributes[strings.ToLower(attr.Name)] || len(attr.Values) == 0 {
				continue
			}
			if !utf8.ValidString(attr.Values[0]) {
				continue
			}
			if r.AdditionalProperties == nil {
				r.AdditionalProperties = make(map[string]string)
			}
			r.AdditionalProperties[attr.Name] = attr.Values[0]
		}
		return nil
	})

	return r
}

// applyUserAccountControl decodes the userAccountControl flags. The four
// derived flags stay absent when the attribute is missing or invalid.
func applyUserAccountControl(entry *ldap.Entry, r *UserRecord) error {
	v, ok := firstValue(entry, "userAccountControl")
	if !ok {
		return nil
	}

	uac, err := ldapclient.ParseUserAccountControl(v)
	if err != nil {
		return err
	}

	r.IsEnabled = ptr(uac&ldapclient.UACAccountDisabled == 0)
	r.PasswordNeverExpires = ptr(uac&ldapclient.UACPasswordNeverExpires != 0)
	r.PasswordCannotChange = ptr(uac&ldapclient.UACPasswordCantChange != 0)
	r.MustChangePasswordNextLogon = ptr(uac&ldapclient.UACPasswordExpired != 0)
	return nil
}

// applyLockout prefers the computed UAC lockout bit, which honours the
// domain lockout duration, over a raw lockoutTime check.
func applyLockout(entry *ldap.Entry, r *UserRecord) error {
	computed, ok, err := intValue(entry, "msDS-User-Account-Control-Computed")
	if err != nil {
		return err
	}
	if ok {
		r.IsLockedOut = ptr(computed&ldapclient.UACLockout != 0)
		return nil
	}

	lockoutTime, ok, err := intValue(entry, "lockoutTime")
	if err != nil {
		return err
	}
	if ok {
		r.IsLockedOut = ptr(lockoutTime > 0)
	}
	return nil
}
