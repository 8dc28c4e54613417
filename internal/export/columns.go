package export

import (
	"time"

	"github.com/isometry/ad-userinfo/internal/directory"
)

// DateLayout renders date cells.
const DateLayout = "2006-01-02 15:04:05"

// Column is one spreadsheet column.
type Column struct {
	Header string
	Value  func(u *directory.UserRecord, loc *time.Location) string
}

func text(field func(*directory.UserRecord) *string) func(*directory.UserRecord, *time.Location) string {
	return func(u *directory.UserRecord, _ *time.Location) string {
		if v := field(u); v != nil {
			return *v
		}
		return ""
	}
}

// yesNo renders an absent flag as "No".
func yesNo(field func(*directory.UserRecord) *bool) func(*directory.UserRecord, *time.Location) string {
	return func(u *directory.UserRecord, _ *time.Location) string {
		if v := field(u); v != nil && *v {
			return "Yes"
		}
		return "No"
	}
}

func date(field func(*directory.UserRecord) *time.Time) func(*directory.UserRecord, *time.Location) string {
	return func(u *directory.UserRecord, loc *time.Location) string {
		if v := field(u); v != nil {
			return v.In(loc).Format(DateLayout)
		}
		return ""
	}
}

// Columns is the fixed column order of the export.
var Columns = []Column{
	{"SamAccountName", text(func(u *directory.UserRecord) *string { return u.SamAccountName })},
	{"UserPrincipalName", text(func(u *directory.UserRecord) *string { return u.UserPrincipalName })},
	{"DisplayName", text(func(u *directory.UserRecord) *string { return u.DisplayName })},
	{"FirstName", text(func(u *directory.UserRecord) *string { return u.FirstName })},
	{"LastName", text(func(u *directory.UserRecord) *string { return u.LastName })},
	{"MiddleName", text(func(u *directory.UserRecord) *string { return u.MiddleName })},
	{"Email", text(func(u *directory.UserRecord) *string { return u.Email })},
	{"EmployeeId", text(func(u *directory.UserRecord) *string { return u.EmployeeID })},
	{"EmployeeNumber", text(func(u *directory.UserRecord) *string { return u.EmployeeNumber })},
	{"EmployeeType", text(func(u *directory.UserRecord) *string { return u.EmployeeType })},
	{"Department", text(func(u *directory.UserRecord) *string { return u.Department })},
	{"Title", text(func(u *directory.UserRecord) *string { return u.Title })},
	{"Company", text(func(u *directory.UserRecord) *string { return u.Company })},
	{"Division", text(func(u *directory.UserRecord) *string { return u.Division })},
	{"Organization", text(func(u *directory.UserRecord) *string { return u.Organization })},
	{"Manager", text(func(u *directory.UserRecord) *string { return u.Manager })},
	{"OfficeLocation", text(func(u *directory.UserRecord) *string { return u.OfficeLocation })},
	{"StreetAddress", text(func(u *directory.UserRecord) *string { return u.StreetAddress })},
	{"City", text(func(u *directory.UserRecord) *string { return u.City })},
	{"State", text(func(u *directory.UserRecord) *string { return u.State })},
	{"PostalCode", text(func(u *directory.UserRecord) *string { return u.PostalCode })},
	{"Country", text(func(u *directory.UserRecord) *string { return u.Country })},
	{"TelephoneNumber", text(func(u *directory.UserRecord) *string { return u.TelephoneNumber })},
	{"MobilePhone", text(func(u *directory.UserRecord) *string { return u.MobilePhone })},
	{"HomePhone", text(func(u *directory.UserRecord) *string { return u.HomePhone })},
	{"IsEnabled", yesNo(func(u *directory.UserRecord) *bool { return u.IsEnabled })},
	{"IsLockedOut", yesNo(func(u *directory.UserRecord) *bool { return u.IsLockedOut })},
	{"LastLogonDate", date(func(u *directory.UserRecord) *time.Time { return u.LastLogonDate })},
	{"WhenCreated", date(func(u *directory.UserRecord) *time.Time { return u.WhenCreated })},
	{"DistinguishedName", text(func(u *directory.UserRecord) *string { return u.DistinguishedName })},
}

// Headers returns the column headers in order.
func Headers() []string {
	headers := make([]string, len(Columns))
	for i, c := range Columns {
		headers[i] = c.Header
	}
	return headers
}
