package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/autocommitor/autocommitor/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "autocommitor",
	Short:         "AutoCommitor - scheduled GitHub commit automation",
	Long:          `AutoCommitor evaluates automation rules on a fixed interval and commits generated content to GitHub within each rule's local time window.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to $AUTOCOMMITOR_CONFIG or ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(adminTokenCmd)
}

func appConfig() config.AppConfig {
	return config.AppConfig{ConfigPath: configPath}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
