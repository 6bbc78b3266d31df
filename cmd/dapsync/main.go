package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/dapsync/internal/pipeline"
	"github.com/ajitpratap0/dapsync/pkg/config"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "dapsync",
		Short: "dapsync - Canvas Data 2 to PostgreSQL replication",
		Long: `dapsync replicates Canvas Data 2 namespaces into PostgreSQL.
Each run initializes tables that do not exist yet and applies incremental
changes to every table, then mails a report of the tables that failed.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dapsync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var flags runFlags
	runCmd := &cobra.Command{
		Use:   "run [main] [logs] [init] [sync] [seq] [DEBUG]",
		Short: "Initialize and/or synchronize the selected namespaces",
		Long: `Run initializes and/or synchronizes the selected namespaces.
Selection can be given as flags or as the positional tokens accepted by the
scheduler entries; both forms can be mixed.

Example:
  dapsync run main logs init sync
  dapsync run --main --sync --init-failure=continue`,
		ValidArgs: []string{
			pipeline.TokenMain, pipeline.TokenLogs, pipeline.TokenInit,
			pipeline.TokenSync, pipeline.TokenSeq, pipeline.TokenDebug,
		},
		Args: cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), envFile, args, flags)
		},
	}
	runCmd.Flags().BoolVar(&flags.Init, "init", false, "Initialize tables missing from the database")
	runCmd.Flags().BoolVar(&flags.Sync, "sync", false, "Apply incremental changes to every table")
	runCmd.Flags().BoolVar(&flags.Main, "main", false, "Process the main namespace")
	runCmd.Flags().BoolVar(&flags.Logs, "logs", false, "Process the logs namespace")
	runCmd.Flags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	runCmd.Flags().StringVar(&flags.InitFailure, "init-failure", "",
		fmt.Sprintf("Init failure policy: %s, %s or %s (default from environment, else %s)",
			config.InitFailureAbort, config.InitFailureSkipSync, config.InitFailureContinue, config.InitFailureAbort))
	runCmd.Flags().BoolVar(&flags.NoInitRetry, "no-init-retry", false, "Disable the drop-and-retry recovery of failed inits")
	runCmd.Flags().StringVar(&flags.Marker, "marker", "", "Completion marker path (default from environment)")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "tables NAMESPACE",
		Short: "List remote tables of a namespace and whether they are replicated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTables(cmd.Context(), envFile, args[0])
		},
	})

	return root
}
