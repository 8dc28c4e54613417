package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isometry/ad-userinfo/internal/directory"
)

type (
	lookupFunc func(*directory.Service, context.Context, string) (*directory.UserRecord, error)
	listFunc   func(*directory.Service, context.Context, string) ([]*directory.UserRecord, error)
	probeFunc  func(*directory.Service, context.Context, string) bool
)

func lookupCommand(a *app, use, short string, lookup lookupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			user, err := lookup(svc, cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer().user(user)
		},
	}
}

func listCommand(a *app, use, short, empty string, list listFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			users, err := list(svc, cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer().users(users, empty)
		},
	}
}

func probeCommand(a *app, use, short, key, label string, probe probeFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer().boolean(key, label, probe(svc, cmd.Context(), args[0]))
		},
	}
}

func userCommand(a *app) *cobra.Command {
	return lookupCommand(a, "user <username>", "Get a user by sAMAccountName",
		(*directory.Service).UserByUsername)
}

func emailCommand(a *app) *cobra.Command {
	return lookupCommand(a, "email <email>", "Get the first user whose mail matches",
		(*directory.Service).UserByEmail)
}

func emailsCommand(a *app) *cobra.Command {
	return listCommand(a, "emails <email>", "Get every user whose UPN or mail matches",
		"No users found with that email address.", (*directory.Service).UsersByEmail)
}

func employeeCommand(a *app) *cobra.Command {
	return lookupCommand(a, "employee <id>", "Get a user by employee ID",
		(*directory.Service).UserByEmployeeID)
}

func dnCommand(a *app) *cobra.Command {
	return lookupCommand(a, "dn <distinguished-name>", "Get a user by distinguished name",
		(*directory.Service).UserByDN)
}

func existsCommand(a *app) *cobra.Command {
	return probeCommand(a, "exists <username>", "Check whether a user exists",
		"exists", "User exists", (*directory.Service).Exists)
}

func existsEmailCommand(a *app) *cobra.Command {
	return probeCommand(a, "exists-email <email>", "Check whether a user with this email exists",
		"exists", "User exists", (*directory.Service).ExistsByEmail)
}

func enabledCommand(a *app) *cobra.Command {
	return probeCommand(a, "enabled <username>", "Check whether an account is enabled",
		"enabled", "User is enabled", (*directory.Service).IsEnabled)
}

func lockedCommand(a *app) *cobra.Command {
	return probeCommand(a, "locked <username>", "Check whether an account is locked out",
		"locked_out", "User is locked out", (*directory.Service).IsLockedOut)
}

func groupCommand(a *app) *cobra.Command {
	return listCommand(a, "group <group>", "List the members of a group, including nested members",
		"No users found in group.", (*directory.Service).UsersInGroup)
}

func groupsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "groups <username>",
		Short: "List the groups a user belongs to, including nested groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			groups, err := svc.UserGroups(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer().list("User is member of", groups)
		},
	}
}

func memberCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "member <username> <group>",
		Short: "Check whether a user is a member of a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			member := svc.IsUserInGroup(cmd.Context(), args[0], args[1])
			return a.printer().boolean("member", "User is member of group", member)
		},
	}
}

func departmentCommand(a *app) *cobra.Command {
	return listCommand(a, "department <department>", "List the users of a department",
		"No users found in department.", (*directory.Service).UsersByDepartment)
}

func reportsCommand(a *app) *cobra.Command {
	return listCommand(a, "reports <manager>", "List the direct reports of a manager",
		"No direct reports found.", (*directory.Service).DirectReports)
}

func searchCommand(a *app) *cobra.Command {
	var maxResults int

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search users by display name, account name or common name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			users, err := svc.Search(cmd.Context(), args[0], maxResults)
			if err != nil {
				return err
			}
			return a.printer().users(users, "No users found.")
		},
	}
	cmd.Flags().IntVarP(&maxResults, "max", "n", directory.DefaultSearchLimit, "maximum number of results")
	return cmd
}

func validateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <username>",
		Short: "Check a username and password against the directory",
		Long: `Check a username and password against the directory.

The password is read from the terminal without echo, or as one line from
standard input when it is not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			password, err := a.readPassword("Password: ")
			if err != nil {
				return err
			}
			valid := svc.ValidateCredentials(cmd.Context(), args[0], password)
			return a.printer().boolean("valid", "Credentials are valid", valid)
		},
	}
}

func photoCommand(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "photo <username>",
		Short: "Save a user's thumbnail photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			photo := svc.UserPhoto(cmd.Context(), args[0])
			if photo == nil {
				warn.Fprintln(a.out, "No photo found for user.")
				return nil
			}

			path := out
			if path == "" {
				path = photoFileName(args[0])
			}
			return savePhoto(a, path, photo)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "O", "", "output file (default <username>_photo.jpg)")
	return cmd
}

func photoFileName(username string) string {
	return username + "_photo.jpg"
}

func savePhoto(a *app, path string, photo []byte) error {
	if err := os.WriteFile(path, photo, 0o644); err != nil {
		return fmt.Errorf("failed to save photo: %w", err)
	}
	fmt.Fprintf(a.out, "User photo retrieved: %d bytes\n", len(photo))
	fmt.Fprintf(a.out, "Photo saved to %s\n", path)
	return nil
}

func exportCommand(a *app) *cobra.Command {
	var (
		dir        string
		showInFile bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every user in scope to an Excel workbook",
		Long: `Export every user in scope to an Excel workbook.

The file is named ADUsers_<yyyyMMdd_HHmmss>.xlsx and is written to --dir,
which is created if it does not exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.cfg.Export.Dir
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			path, err := svc.ExportAllUsers(cmd.Context(), dir)
			if err != nil {
				return err
			}
			if err := a.printer().exported(path); err != nil {
				return err
			}
			if showInFile {
				return a.reveal(path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory to write the workbook to (default from config export.dir)")
	cmd.Flags().BoolVar(&a.streaming, "streaming", false, "write rows incrementally, for very large directories")
	cmd.Flags().BoolVar(&showInFile, "reveal", false, "show the workbook in the file browser when done")
	return cmd
}

func whoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity the directory sees for this connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.WhoAmI(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer().whoami(res)
		},
	}
}

func versionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No configuration is needed to print the version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.out, "adusers %s\n", cmd.Root().Version)
		},
	}
}
