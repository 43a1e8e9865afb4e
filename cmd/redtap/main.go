package main

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Exit codes
const (
	exitOK         = 0
	exitFatal      = 1
	exitAllFailed  = 2
	defaultCfgPath = "redtap.yaml"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if goerrors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "redtap:", err)
	}
	os.Exit(exitCode(err))
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "redtap",
		Short: "redtap - Amazon Redshift extraction tap",
		Long: `redtap extracts tables and views from Amazon Redshift and writes them as a
stream of SCHEMA, RECORD and STATE messages, one JSON document per line.

Streams are read either directly over the query connection or, when an S3
staging location is configured, in bulk through UNLOAD.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "redtap v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configPath string
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Write the catalog of tables and views",
		Long: `Discover lists every table and view in the configured schemas, converts their
column types and writes the catalog as JSON. Streams are written unselected.

Example:
  redtap discover --config redtap.yaml > catalog.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}
	discoverCmd.Flags().StringVarP(&configPath, "config", "c", defaultCfgPath, "Path to configuration file")
	root.AddCommand(discoverCmd)

	var opts syncOptions
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Extract the selected streams",
		Long: `Sync extracts every selected stream in the catalog and writes SCHEMA, RECORD
and STATE messages to the configured output. A prior state resumes
incremental streams after their bookmarks.

Exit status is 1 when the run is aborted and 2 when every selected stream
failed.

Example:
  redtap sync --config redtap.yaml --catalog catalog.json --state state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath = configPath
			return runSync(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	syncCmd.Flags().StringVarP(&configPath, "config", "c", defaultCfgPath, "Path to configuration file")
	syncCmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "Path to catalog file (required)")
	syncCmd.Flags().StringVar(&opts.statePath, "state", "", "Path to prior state file")
	_ = syncCmd.MarkFlagRequired("catalog")
	root.AddCommand(syncCmd)

	return root
}
