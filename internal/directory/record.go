package directory

import (
	"fmt"
	"time"
)

// UserRecord is a flattened Active Directory user.
//
// Every field is optional: nil means the attribute was not present on the
// entry, which is distinct from an empty value.
type UserRecord struct {
	// Identity
	SamAccountName    *string `json:"samAccountName,omitempty"`
	UserPrincipalName *string `json:"userPrincipalName,omitempty"`
	DisplayName       *string `json:"displayName,omitempty"`
	FirstName         *string `json:"firstName,omitempty"`
	LastName          *string `json:"lastName,omitempty"`
	MiddleName        *string `json:"middleName,omitempty"`
	Email             *string `json:"email,omitempty"`
	EmployeeID        *string `json:"employeeId,omitempty"`
	EmployeeNumber    *string `json:"employeeNumber,omitempty"`
	EmployeeType      *string `json:"employeeType,omitempty"`

	// Organization
	Department               *string  `json:"department,omitempty"`
	Title                    *string  `json:"title,omitempty"`
	JobTitle                 *string  `json:"jobTitle,omitempty"`
	Company                  *string  `json:"company,omitempty"`
	Division                 *string  `json:"division,omitempty"`
	Organization             *string  `json:"organization,omitempty"`
	Manager                  *string  `json:"manager,omitempty"`
	ManagerDistinguishedName *string  `json:"managerDistinguishedName,omitempty"`
	DirectReports            []string `json:"directReports,omitempty"`

	// Address
	OfficeLocation *string `json:"officeLocation,omitempty"`
	StreetAddress  *string `json:"streetAddress,omitempty"`
	City           *string `json:"city,omitempty"`
	State          *string `json:"state,omitempty"`
	PostalCode     *string `json:"postalCode,omitempty"`
	Country        *string `json:"country,omitempty"`
	CountryCode    *string `json:"countryCode,omitempty"`
	PostOfficeBox  *string `json:"postOfficeBox,omitempty"`

	// Phones
	TelephoneNumber *string  `json:"telephoneNumber,omitempty"`
	MobilePhone     *string  `json:"mobilePhone,omitempty"`
	HomePhone       *string  `json:"homePhone,omitempty"`
	FaxNumber       *string  `json:"faxNumber,omitempty"`
	IPPhone         *string  `json:"ipPhone,omitempty"`
	Pager           *string  `json:"pager,omitempty"`
	OtherTelephones []string `json:"otherTelephones,omitempty"`

	// Profile
	HomeDirectory *string `json:"homeDirectory,omitempty"`
	HomeDrive     *string `json:"homeDrive,omitempty"`
	ProfilePath   *string `json:"profilePath,omitempty"`
	ScriptPath    *string `json:"scriptPath,omitempty"`

	// Account state
	IsEnabled                   *bool      `json:"isEnabled,omitempty"`
	IsLockedOut                 *bool      `json:"isLockedOut,omitempty"`
	PasswordNeverExpires        *bool      `json:"passwordNeverExpires,omitempty"`
	PasswordCannotChange        *bool      `json:"passwordCannotChange,omitempty"`
	MustChangePasswordNextLogon *bool      `json:"mustChangePasswordNextLogon,omitempty"`
	AccountExpirationDate       *time.Time `json:"accountExpirationDate,omitempty"`
	LastLogonDate               *time.Time `json:"lastLogonDate,omitempty"`
	LastPasswordSet             *time.Time `json:"lastPasswordSet,omitempty"`
	BadPasswordTime             *time.Time `json:"badPasswordTime,omitempty"`
	LockoutTime                 *time.Time `json:"lockoutTime,omitempty"`
	BadPasswordCount            *int       `json:"badPasswordCount,omitempty"`

	// Timestamps
	WhenCreated *time.Time `json:"whenCreated,omitempty"`
	WhenChanged *time.Time `json:"whenChanged,omitempty"`

	// Identifiers
	DistinguishedName *string `json:"distinguishedName,omitempty"`
	ObjectGUID        *string `json:"objectGuid,omitempty"`
	ObjectSID         *string `json:"objectSid,omitempty"`
	Description       *string `json:"description,omitempty"`

	// Groups
	MemberOf []string `json:"memberOf,omitempty"`
	Groups   []string `json:"groups,omitempty"`

	// Misc
	ThumbnailPhoto       *string           `json:"thumbnailPhoto,omitempty"`
	ProxyAddresses       *string           `json:"proxyAddresses,omitempty"`
	ProxyAddressList     []string          `json:"proxyAddressList,omitempty"`
	Info                 *string           `json:"info,omitempty"`
	ExtensionAttributes  map[string]string `json:"extensionAttributes,omitempty"`
	AdditionalProperties map[string]string `json:"additionalProperties,omitempty"`
}

// String renders the record as "DisplayName (SamAccountName) - Email".
func (r *UserRecord) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%s) - %s", deref(r.DisplayName), deref(r.SamAccountName), deref(r.Email))
}

// Account returns the account name, or "" when absent.
func (r *UserRecord) Account() string {
	if r == nil {
		return ""
	}
	return deref(r.SamAccountName)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T {
	return &v
}
