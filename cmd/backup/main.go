package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/imedwei/docker-pbs-backup/internal/version"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "docker-pbs-backup",
	Short: "Back up Docker containers to Proxmox Backup Server",
	Long: `docker-pbs-backup dumps PostgreSQL databases running in containers, collects
the named volumes of every other container and hands them to
proxmox-backup-client in a single backup. With BACKUP_SCHEDULE set it keeps
running and backs up on that cron schedule; otherwise it runs once and exits.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), configFile, false)
	},
}

var backupCmd = &cobra.Command{
	Use:          "backup",
	Short:        "Run a single backup now, ignoring BACKUP_SCHEDULE",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), configFile, true)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "docker-pbs-backup", version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (yaml, json, toml or env); environment variables take precedence")
	rootCmd.AddCommand(backupCmd, versionCmd)
}

func main() {
	// A .env file is optional.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
