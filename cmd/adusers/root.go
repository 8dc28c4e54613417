package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/isometry/ad-userinfo/internal/config"
	"github.com/isometry/ad-userinfo/internal/directory"
	"github.com/isometry/ad-userinfo/internal/export"
	"github.com/isometry/ad-userinfo/internal/logging"
)

// app carries state shared by every command of one invocation.
type app struct {
	configFile string
	envFile    string
	streaming  bool

	cfg    *config.Config
	logger hclog.Logger
	svc    *directory.Service

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	lines  *bufio.Reader

	// connect opens the directory service from options.
	connect func(ctx context.Context, opts ...directory.Option) (*directory.Service, error)
	// readPassword reads a secret without echoing it.
	readPassword func(prompt string) (string, error)
	// reveal shows an exported file in the platform file browser.
	reveal func(path string) error
}

func newApp() *app {
	a := &app{
		in:      os.Stdin,
		out:     os.Stdout,
		errOut:  os.Stderr,
		connect: directory.New,
		reveal:  revealInFileBrowser,
		logger:  hclog.NewNullLogger(),
	}
	a.readPassword = a.promptPassword
	return a
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "adusers",
		Short: "Look up Active Directory users",
		Long: `adusers queries Active Directory for user accounts.

Lookups, account probes, group membership and a full Excel export are
available as sub-commands. Settings come from a YAML config file, a .env
file, ADUSERS_* environment variables and flags, in increasing precedence.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/adusers/config.yaml, then ./adusers.yaml)")
	flags.StringVar(&a.envFile, "env-file", "", "dotenv file (default .env)")
	flags.String("domain", "", "AD domain (default: detected from the environment)")
	flags.String("container", "", "container or OU to scope searches to")
	flags.StringP("username", "u", "", "bind as this user instead of the current user")
	flags.String("password", "", "password for --username (prompted when omitted)")
	flags.String("base-dn", "", "search base DN (default: from the domain)")
	flags.StringSlice("ldap-url", nil, "LDAP server URL, overrides SRV discovery (repeatable)")
	flags.Uint32("page-size", 0, "page size for paged searches")
	flags.StringP("output", "o", "table", "output format: table or json")
	flags.String("log-level", "warn", "log level: trace, debug, info, warn, error, off")
	flags.String("log-format", "text", "log format: text or json")

	root.AddCommand(
		userCommand(a), emailCommand(a), emailsCommand(a), employeeCommand(a), dnCommand(a),
		existsCommand(a), existsEmailCommand(a), enabledCommand(a), lockedCommand(a),
		groupCommand(a), groupsCommand(a), memberCommand(a),
		departmentCommand(a), reportsCommand(a), searchCommand(a),
		validateCommand(a), photoCommand(a), exportCommand(a), whoamiCommand(a),
		interactiveCommand(a), versionCommand(a),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{
		ConfigFile: a.configFile,
		EnvFile:    a.envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: a.errOut,
		Color:  isTerminal(a.errOut),
	})
	if err != nil {
		return err
	}
	hclog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger

	ctx := logging.WithLogger(cmd.Context(), logger)
	cmd.SetContext(ctx)

	logging.SubsystemDebug(ctx, logging.SubsystemCLI, "Configuration loaded", map[string]any{
		"command":   cmd.Name(),
		"domain":    cfg.Domain,
		"container": cfg.Container,
		"username":  cfg.Username,
		"output":    cfg.Output,
	})
	return nil
}

func (a *app) close() error {
	if a.svc == nil {
		return nil
	}
	err := a.svc.Close()
	a.svc = nil
	return err
}

// baseOptions returns the service options every connection shares.
func (a *app) baseOptions() []directory.Option {
	return []directory.Option{
		directory.WithConnectionConfig(a.cfg.ConnectionConfig()),
		directory.WithLogger(a.logger),
		directory.WithExporter(export.NewWriter(
			export.WithStreaming(a.streaming),
			export.WithLogger(a.logger.Named(logging.SubsystemExport)),
		)),
	}
}

// service connects once per invocation using the loaded configuration.
func (a *app) service(ctx context.Context) (*directory.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	opts := a.baseOptions()
	if a.cfg.Container != "" {
		opts = append(opts, directory.WithContainer(a.cfg.Container))
	}
	if a.cfg.Username != "" {
		password := a.cfg.Password
		if password == "" {
			var err error
			if password, err = a.readPassword(fmt.Sprintf("Password for %s: ", a.cfg.Username)); err != nil {
				return nil, err
			}
		}
		opts = append(opts, directory.WithCredentials(a.cfg.Username, password))
	}

	svc, err := a.connect(ctx, opts...)
	if err != nil {
		return nil, err
	}

	logging.SubsystemInfo(ctx, logging.SubsystemCLI, "Connected", map[string]any{"path": svc.Path()})
	a.svc = svc
	return svc, nil
}

func (a *app) printer() *printer {
	format := "table"
	if a.cfg != nil {
		format = a.cfg.Output
	}
	return &printer{out: a.out, format: format, location: time.Local}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
