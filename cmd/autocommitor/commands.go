package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/autocommitor/autocommitor/internal/app"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the operations API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return app.RunServer(ctx, appConfig())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return app.Migrate(ctx, appConfig())
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single scheduler tick and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		report, err := app.RunTickOnce(ctx, appConfig(), tickStandalone)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	},
}

var tickStandalone bool

var (
	tokenOperator string
	tokenTTL      time.Duration
)

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Issue a bearer token for the operations API",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := app.IssueOperatorToken(appConfig(), tokenOperator, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tickCmd.Flags().BoolVar(&tickStandalone, "standalone", false, "run without redis locks; only safe when no server schedules against the same database")
	adminTokenCmd.Flags().StringVar(&tokenOperator, "operator", "admin", "operator name embedded in the token")
	adminTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
