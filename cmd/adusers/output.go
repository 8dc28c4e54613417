package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/isometry/ad-userinfo/internal/directory"
	"github.com/isometry/ad-userinfo/internal/export"
	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
)

// maxListedGroups caps the groups shown under a user in table output.
const maxListedGroups = 10

var (
	heading = color.New(color.Bold, color.FgCyan)
	good    = color.New(color.FgGreen)
	bad     = color.New(color.FgRed)
	warn    = color.New(color.FgYellow)
)

type printer struct {
	out      io.Writer
	format   string
	location *time.Location
}

func (p *printer) json() bool {
	return strings.EqualFold(p.format, "json")
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
}

// user prints one record, or a not-found notice when u is nil.
func (p *printer) user(u *directory.UserRecord) error {
	if p.json() {
		return p.encode(u)
	}
	if u == nil {
		warn.Fprintln(p.out, "User not found.")
		return nil
	}

	heading.Fprintln(p.out, "=== User Information ===")
	tw := p.table()
	for _, c := range export.Columns {
		if v := c.Value(u, p.location); v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", c.Header, v)
		}
	}
	if u.WhenChanged != nil {
		fmt.Fprintf(tw, "WhenChanged:\t%s\n", u.WhenChanged.In(p.location).Format(export.DateLayout))
	}
	fmt.Fprintf(tw, "Groups:\t%d\n", len(u.Groups))
	if err := tw.Flush(); err != nil {
		return err
	}

	groups := u.Groups
	if len(groups) > maxListedGroups {
		fmt.Fprintf(p.out, "  (Showing first %d of %d groups)\n", maxListedGroups, len(groups))
		groups = groups[:maxListedGroups]
	}
	for _, g := range groups {
		fmt.Fprintf(p.out, "  - %s\n", g)
	}
	return nil
}

// users prints records as a table; empty is shown when there are none.
func (p *printer) users(users []*directory.UserRecord, empty string) error {
	if p.json() {
		if users == nil {
			users = []*directory.UserRecord{}
		}
		return p.encode(users)
	}
	if len(users) == 0 {
		warn.Fprintln(p.out, empty)
		return nil
	}

	fmt.Fprintf(p.out, "Found %d user(s):\n", len(users))
	tw := p.table()
	fmt.Fprintln(tw, "USERNAME\tDISPLAY NAME\tEMAIL\tDEPARTMENT\tTITLE\tENABLED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			text(u.SamAccountName), text(u.DisplayName), text(u.Email),
			text(u.Department), text(u.Title), yesNo(u.IsEnabled))
	}
	return tw.Flush()
}

// list prints a titled list of names.
func (p *printer) list(title string, values []string) error {
	if p.json() {
		if values == nil {
			values = []string{}
		}
		return p.encode(values)
	}

	fmt.Fprintf(p.out, "%s (%d):\n", title, len(values))
	for _, v := range values {
		fmt.Fprintf(p.out, "  - %s\n", v)
	}
	return nil
}

// boolean prints the outcome of a probe.
func (p *printer) boolean(key, label string, v bool) error {
	if p.json() {
		return p.encode(map[string]bool{key: v})
	}

	fmt.Fprintf(p.out, "%s: ", label)
	if v {
		good.Fprintln(p.out, "Yes")
	} else {
		bad.Fprintln(p.out, "No")
	}
	return nil
}

func (p *printer) whoami(res *ldapclient.WhoAmIResult) error {
	if p.json() {
		return p.encode(res)
	}

	tw := p.table()
	fmt.Fprintf(tw, "Authorization ID:\t%s\n", res.AuthzID)
	fmt.Fprintf(tw, "Format:\t%s\n", res.Format)
	for _, row := range [][2]string{
		{"DN", res.DN},
		{"User principal name", res.UserPrincipalName},
		{"SAM account name", res.SAMAccountName},
		{"SID", res.SID},
	} {
		if row[1] != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
		}
	}
	return tw.Flush()
}

// exported reports a finished export.
func (p *printer) exported(path string) error {
	if p.json() {
		return p.encode(map[string]string{"path": path})
	}
	good.Fprintln(p.out, "✓ Export completed successfully!")
	fmt.Fprintf(p.out, "File saved to: %s\n", path)
	return nil
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b *bool) string {
	switch {
	case b == nil:
		return ""
	case *b:
		return "Yes"
	default:
		return "No"
	}
}
