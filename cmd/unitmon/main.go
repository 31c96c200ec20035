package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unitmon/unitmon/pkg/confgen"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	runFlags := &RunFlags{}
	statusFlags := &StatusFlags{}
	templateFlags := &TemplateFlags{}

	unitmonCommand := command{}

	root := createRootCommand()

	root.AddCommand(
		createRunCommand(unitmonCommand, runFlags),
		createStatusCommand(unitmonCommand, statusFlags),
		createTemplateCommand(unitmonCommand, templateFlags),
		createVersionCommand(),
	)

	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "unitmon",
		Short: "Systemd unit watchdog with restart and email alerting",
		Long: `Unitmon watches configured systemd units, restarts them when they go
down and emails the administrator when failures persist.

Examples:
  unitmon run --config=/etc/unitmon/config.toml           # Single check pass
  unitmon run --config=/etc/unitmon/config.toml --daemon  # Keep checking
  unitmon status                                          # Query running daemon
  unitmon template --profile=webserver                    # Print starter config`,
		SilenceUsage: true,
	}
	return root
}

// createRunCommand creates the run subcommand
func createRunCommand(unitmonCommand command, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Check configured units once or continuously",
		Long: `Check every configured unit, restart the ones that are down and send
alerts per the configured policy. Runs a single pass unless daemon mode
is requested by flag or by the config file.

Exit codes: 0 all units up (or another run held the lock), 1 the watchdog
could not run, 2 units remained down after the check.

Examples:
  unitmon run --config=/etc/unitmon/config.toml
  unitmon run /etc/unitmon/config.toml --daemon
  unitmon run --config=/etc/unitmon/config.toml --once`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *runFlags
			if len(args) > 0 {
				f.ConfigPath = args[0]
			}
			return unitmonCommand.Run(f)
		},
	}

	cmd.Flags().StringVar(&runFlags.ConfigPath, "config", "", "path to TOML config file (required)")
	cmd.Flags().BoolVar(&runFlags.Once, "once", false, "force a single check pass")
	cmd.Flags().BoolVar(&runFlags.Daemon, "daemon", false, "keep checking at the configured interval")

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(unitmonCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-unit state",
		Long: `Print the per-unit state persisted by the last check, read from the
state file named in the config. With --server-url the state comes from a
running daemon's status API instead.

Examples:
  unitmon status --config=/etc/unitmon/config.toml
  unitmon status --config=/etc/unitmon/config.toml --json
  unitmon status --server-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return unitmonCommand.Status(*statusFlags)
		},
	}

	cmd.Flags().StringVar(&statusFlags.ConfigPath, "config", "", "path to TOML config file (names the state file)")
	cmd.Flags().BoolVar(&statusFlags.JSON, "json", false, "print raw JSON")
	cmd.Flags().StringVar(&statusFlags.ServerURL, "server-url", "", "daemon URL (e.g. http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&statusFlags.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

// createTemplateCommand creates the template subcommand
func createTemplateCommand(unitmonCommand command, templateFlags *TemplateFlags) *cobra.Command {
	profiles := strings.Join(confgen.NewGenerator().GetSupportedProfiles(), ", ")

	cmd := &cobra.Command{
		Use:   "template <profile>",
		Short: "Print a starter configuration snippet",
		Long: `Print an example TOML configuration for a common monitoring setup to
stdout. Nothing is written to disk; redirect the output to install it.
Supported profiles: ` + profiles + `.

Examples:
  unitmon template webserver
  unitmon template full --email=ops@example.com > /etc/unitmon/config.toml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *templateFlags
			f.Profile = args[0]
			return unitmonCommand.Template(cmd.OutOrStdout(), f)
		},
	}

	cmd.Flags().StringVar(&templateFlags.Email, "email", "", "admin email to embed in the config")

	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the unitmon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("unitmon %s\n", version)
		},
	}
}
