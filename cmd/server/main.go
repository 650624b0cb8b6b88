/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the points service. The root command carries the
  shared --config flag; subcommands do the work.

COMMANDS:
  serve    Run the HTTP API (default when no subcommand is given)
  adjust   Apply one manual balance change and exit

CONFIGURATION:
  ./configs/<APP_ENV>.yaml, overridden by .env files and POINTS_* variables
  (see config/loader.go). --config points at an explicit file instead.

EXAMPLES:
  # Run the API with configs/development.yaml
  ./server serve

  # Run against an explicit file
  ./server serve --config ./configs/production.yaml

  # Grant 100 points to user 42
  ./server adjust --user 42 --delta 100 --reason "support ticket 881"

SEE ALSO:
  - cmd/server/app.go: Dependency wiring
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Points ledger, sign-in and AI usage service",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./configs/$APP_ENV.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
