// Package cli implements facesyncctl, the operator command-line tool.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/facesync/internal/app"
	"github.com/your-org/facesync/internal/config"
	"github.com/your-org/facesync/internal/observability"
)

var configPath string

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	App    *app.App
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.App != nil {
		c.App.Close()
	}
}

// initContext loads config and connects to both stores
func initContext(ctx context.Context) *cmdContext {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}
	// Keep stdout for command output.
	observability.SetupLogger("error", "text")

	a, err := app.Open(ctx, cfg, nil)
	if err != nil {
		exitError("%v", err)
	}
	return &cmdContext{Config: cfg, App: a}
}

var rootCmd = &cobra.Command{
	Use:   "facesyncctl",
	Short: "Operate the facesync biometric stores",
	Long: `facesyncctl inspects and repairs the embedding store and the profile index.
It talks to Postgres and MinIO directly using the service configuration.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config file")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(unblockCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
