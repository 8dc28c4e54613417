package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/isometry/ad-userinfo/internal/directory"
)

var errInvalidChoice = errors.New("invalid choice")

func interactiveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Explore the directory from a menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.interactive(cmd.Context())
		},
	}
}

// await waits for an async result, giving up when ctx ends.
func await[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func awaitResult[T any](ctx context.Context, ch <-chan directory.Result[T]) (T, error) {
	res, err := await(ctx, ch)
	if err != nil {
		return res.Value, err
	}
	return res.Value, res.Err
}

type connectionMode struct {
	label string
	open  func(ctx context.Context, a *app, opts []directory.Option) (*directory.Service, error)
}

var connectionModes = []connectionMode{
	{"Default domain (current user context)", func(ctx context.Context, _ *app, opts []directory.Option) (*directory.Service, error) {
		return directory.NewDefault(ctx, opts...)
	}},
	{"Specific domain", func(ctx context.Context, a *app, opts []directory.Option) (*directory.Service, error) {
		domain, err := a.prompt("Enter domain: ")
		if err != nil {
			return nil, err
		}
		return directory.NewForDomain(ctx, domain, opts...)
	}},
	{"Specific domain with credentials", func(ctx context.Context, a *app, opts []directory.Option) (*directory.Service, error) {
		domain, err := a.prompt("Enter domain: ")
		if err != nil {
			return nil, err
		}
		username, password, err := a.promptCredentials()
		if err != nil {
			return nil, err
		}
		return directory.NewWithCredentials(ctx, domain, username, password, opts...)
	}},
	{"Specific domain with container/OU", func(ctx context.Context, a *app, opts []directory.Option) (*directory.Service, error) {
		domain, err := a.prompt("Enter domain: ")
		if err != nil {
			return nil, err
		}
		container, err := a.prompt("Enter container (e.g. OU=Users,DC=example,DC=com): ")
		if err != nil {
			return nil, err
		}
		return directory.NewForDomainContainer(ctx, domain, container, opts...)
	}},
	{"Full configuration (domain, container, credentials)", func(ctx context.Context, a *app, opts []directory.Option) (*directory.Service, error) {
		domain, err := a.prompt("Enter domain: ")
		if err != nil {
			return nil, err
		}
		container, err := a.prompt("Enter container: ")
		if err != nil {
			return nil, err
		}
		username, password, err := a.promptCredentials()
		if err != nil {
			return nil, err
		}
		return directory.NewWithContainerAndCredentials(ctx, domain, container, username, password, opts...)
	}},
}

func (a *app) promptCredentials() (string, string, error) {
	username, err := a.prompt("Enter username: ")
	if err != nil {
		return "", "", err
	}
	password, err := a.readPassword("Enter password: ")
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

// chooseConnection asks how to connect. The chosen mode alone decides the
// domain and credentials; only transport settings come from configuration.
func (a *app) chooseConnection(ctx context.Context) (*directory.Service, error) {
	fmt.Fprintln(a.out, "Choose connection method:")
	for i, mode := range connectionModes {
		fmt.Fprintf(a.out, "%d. %s\n", i+1, mode.label)
	}

	choice, err := a.prompt("\nEnter choice (1-5): ")
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(connectionModes) {
		return nil, fmt.Errorf("%w %q", errInvalidChoice, choice)
	}

	conn := a.cfg.ConnectionConfig()
	conn.Domain, conn.Username, conn.Password = "", "", ""
	opts := append(a.baseOptions(), directory.WithConnectionConfig(conn))

	return connectionModes[n-1].open(ctx, a, opts)
}

type operation struct {
	label string
	run   func(ctx context.Context, a *app, svc *directory.Service) error
}

var operations = []operation{
	{"Get user by username", opUserByUsername},
	{"Get user by email", opUsersByEmail},
	{"Get user by employee ID", opUserByEmployeeID},
	{"Check if user exists", opExists},
	{"Check if user is enabled", opIsEnabled},
	{"Check if user is locked out", opIsLockedOut},
	{"Get user groups", opUserGroups},
	{"Check if user is in group", opIsUserInGroup},
	{"Search users", opSearch},
	{"Get users in group", opUsersInGroup},
	{"Get users by department", opUsersByDepartment},
	{"Get direct reports", opDirectReports},
	{"Validate credentials", opValidateCredentials},
	{"Get user photo", opUserPhoto},
	{"Export all users to Excel", opExport},
}

func (a *app) interactive(ctx context.Context) error {
	heading.Fprintln(a.out, "=== Active Directory User Information ===")
	fmt.Fprintln(a.out)

	svc, err := a.chooseConnection(ctx)
	if err != nil {
		return err
	}
	a.svc = svc
	good.Fprintf(a.out, "Connected to %s\n", svc.Path())

	for {
		heading.Fprintln(a.out, "\n=== Available Operations ===")
		for i, op := range operations {
			fmt.Fprintf(a.out, "%d. %s\n", i+1, op.label)
		}
		fmt.Fprintln(a.out, "0. Exit")

		choice, err := a.prompt("\nSelect operation: ")
		if errors.Is(err, io.EOF) || choice == "0" {
			return nil
		}
		if err != nil {
			return err
		}

		n, convErr := strconv.Atoi(choice)
		if convErr != nil || n < 1 || n > len(operations) {
			warn.Fprintln(a.out, "Invalid operation.")
			continue
		}

		if err := operations[n-1].run(ctx, a, svc); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			bad.Fprintf(a.out, "Operation failed: %v\n", err)
		}
	}
}

// ask prompts for a value; an empty answer cancels the operation.
func (a *app) ask(label string) (string, bool) {
	v, err := a.prompt(label)
	return v, err == nil && v != ""
}

func (a *app) table() *printer {
	return &printer{out: a.out, format: "table", location: time.Local}
}

func opUserByUsername(ctx context.Context, a *app, svc *directory.Service) error {
	username, ok := a.ask("Enter username: ")
	if !ok {
		return nil
	}
	user, err := awaitResult(ctx, svc.UserByUsernameAsync(ctx, username))
	if err != nil {
		return err
	}
	return a.table().user(user)
}

func opUsersByEmail(ctx context.Context, a *app, svc *directory.Service) error {
	email, ok := a.ask("Enter email: ")
	if !ok {
		return nil
	}
	users, err := awaitResult(ctx, svc.UsersByEmailAsync(ctx, email))
	if err != nil {
		return err
	}
	if len(users) == 0 {
		warn.Fprintln(a.out, "No users found with that email address.")
		return nil
	}

	rule := strings.Repeat("-", 60)
	fmt.Fprintf(a.out, "\nFound %d user(s) with email '%s':\n%s\n", len(users), email, rule)
	for _, u := range users {
		if err := a.table().user(u); err != nil {
			return err
		}
		fmt.Fprintln(a.out, rule)
	}
	return nil
}

func opUserByEmployeeID(ctx context.Context, a *app, svc *directory.Service) error {
	id, ok := a.ask("Enter employee ID: ")
	if !ok {
		return nil
	}
	user, err := awaitResult(ctx, svc.UserByEmployeeIDAsync(ctx, id))
	if err != nil {
		return err
	}
	return a.table().user(user)
}

func probe(ctx context.Context, a *app, label string, start func(string) <-chan bool) error {
	username, ok := a.ask("Enter username: ")
	if !ok {
		return nil
	}
	v, err := await(ctx, start(username))
	if err != nil {
		return err
	}
	return a.table().boolean("", label, v)
}

func opExists(ctx context.Context, a *app, svc *directory.Service) error {
	return probe(ctx, a, "User exists", func(u string) <-chan bool { return svc.ExistsAsync(ctx, u) })
}

func opIsEnabled(ctx context.Context, a *app, svc *directory.Service) error {
	return probe(ctx, a, "User is enabled", func(u string) <-chan bool { return svc.IsEnabledAsync(ctx, u) })
}

func opIsLockedOut(ctx context.Context, a *app, svc *directory.Service) error {
	return probe(ctx, a, "User is locked out", func(u string) <-chan bool { return svc.IsLockedOutAsync(ctx, u) })
}

func opUserGroups(ctx context.Context, a *app, svc *directory.Service) error {
	username, ok := a.ask("Enter username: ")
	if !ok {
		return nil
	}
	groups, err := awaitResult(ctx, svc.UserGroupsAsync(ctx, username))
	if err != nil {
		return err
	}
	return a.table().list("\nUser is member of", groups)
}

func opIsUserInGroup(ctx context.Context, a *app, svc *directory.Service) error {
	username, ok := a.ask("Enter username: ")
	if !ok {
		return nil
	}
	group, ok := a.ask("Enter group name: ")
	if !ok {
		return nil
	}
	member, err := await(ctx, svc.IsUserInGroupAsync(ctx, username, group))
	if err != nil {
		return err
	}
	return a.table().boolean("", "User is member of group", member)
}

func opSearch(ctx context.Context, a *app, svc *directory.Service) error {
	term, ok := a.ask("Enter search term: ")
	if !ok {
		return nil
	}
	maxResults := directory.DefaultSearchLimit
	if v, ok := a.ask(fmt.Sprintf("Max results (default %d): ", directory.DefaultSearchLimit)); ok {
		if n, err := strconv.Atoi(v); err == nil {
			maxResults = n
		}
	}
	users, err := awaitResult(ctx, svc.SearchAsync(ctx, term, maxResults))
	if err != nil {
		return err
	}
	return a.table().users(users, "No users found.")
}

func opUsersInGroup(ctx context.Context, a *app, svc *directory.Service) error {
	group, ok := a.ask("Enter group name: ")
	if !ok {
		return nil
	}
	users, err := awaitResult(ctx, svc.UsersInGroupAsync(ctx, group))
	if err != nil {
		return err
	}
	return a.table().users(users, "No users found in group.")
}

func opUsersByDepartment(ctx context.Context, a *app, svc *directory.Service) error {
	department, ok := a.ask("Enter department: ")
	if !ok {
		return nil
	}
	users, err := awaitResult(ctx, svc.UsersByDepartmentAsync(ctx, department))
	if err != nil {
		return err
	}
	return a.table().users(users, "No users found in department.")
}

func opDirectReports(ctx context.Context, a *app, svc *directory.Service) error {
	manager, ok := a.ask("Enter manager username: ")
	if !ok {
		return nil
	}
	users, err := awaitResult(ctx, svc.DirectReportsAsync(ctx, manager))
	if err != nil {
		return err
	}
	return a.table().users(users, "No direct reports found.")
}

func opValidateCredentials(ctx context.Context, a *app, svc *directory.Service) error {
	username, ok := a.ask("Enter username: ")
	if !ok {
		return nil
	}
	password, err := a.readPassword("Enter password: ")
	if err != nil {
		return err
	}
	valid, err := await(ctx, svc.ValidateCredentialsAsync(ctx, username, password))
	if err != nil {
		return err
	}
	return a.table().boolean("", "Credentials are valid", valid)
}

func opUserPhoto(ctx context.Context, a *app, svc *directory.Service) error {
	username, ok := a.ask("Enter username: ")
	if !ok {
		return nil
	}
	photo, err := await(ctx, svc.UserPhotoAsync(ctx, username))
	if err != nil {
		return err
	}
	if photo == nil {
		warn.Fprintln(a.out, "No photo found for user.")
		return nil
	}

	fmt.Fprintf(a.out, "User photo retrieved: %d bytes\n", len(photo))
	if !a.confirm("Save to file?") {
		return nil
	}
	return savePhoto(a, photoFileName(username), photo)
}

func opExport(ctx context.Context, a *app, svc *directory.Service) error {
	heading.Fprintln(a.out, "\n=== Export All Users to Excel ===")
	dir, ok := a.ask(fmt.Sprintf("Enter directory path to save Excel file (press Enter for %s): ", a.cfg.Export.Dir))
	if !ok {
		dir = a.cfg.Export.Dir
	}

	fmt.Fprintf(a.out, "\nExporting all AD users to Excel...\nTarget directory: %s\n", dir)
	fmt.Fprintln(a.out, "Please wait, this may take a few moments...")

	path, err := awaitResult(ctx, svc.ExportAllUsersAsync(ctx, dir))
	if err != nil {
		bad.Fprintf(a.out, "\n✗ Export failed: %v\n", err)
		if cause := errors.Unwrap(err); cause != nil {
			bad.Fprintf(a.out, "   Inner error: %v\n", cause)
		}
		return nil
	}

	if err := a.table().exported(path); err != nil {
		return err
	}
	if a.confirm("\nWould you like to open the file location?") {
		return a.reveal(path)
	}
	return nil
}
