package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var purgeYes bool

var purgeCmd = &cobra.Command{
	Use:   "purge <identity-id>",
	Short: "Hard-delete an identity's embedding document and deactivate its profile",
	Args:  cobra.ExactArgs(1),
	Run:   runPurge,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <origin-ip>",
	Short: "Clear the failed-attempt lockout of an origin",
	Args:  cobra.ExactArgs(1),
	Run:   runUnblock,
}

func init() {
	purgeCmd.Flags().BoolVarP(&purgeYes, "yes", "y", false, "purge without asking")
}

func runPurge(cmd *cobra.Command, args []string) {
	id := parseIdentity(args[0])
	if !purgeYes && !confirm(fmt.Sprintf("Permanently delete the embeddings of identity %d?", id)) {
		fmt.Println("Aborted")
		return
	}

	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	ok, err := c.App.Service.Purge(ctx, id)
	if err != nil || !ok {
		exitError("purge of identity %d incomplete: %v (run 'facesyncctl status %d')", id, err, id)
	}
	color.New(color.FgGreen).Printf("Purged identity %d\n", id)
}

func runUnblock(cmd *cobra.Command, args []string) {
	origin := args[0]

	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	rec, err := c.App.Service.AttemptRecord(ctx, origin)
	if err != nil {
		exitError("failed to read attempts for %s: %v", origin, err)
	}
	if rec == nil || rec.AttemptsCount == 0 {
		fmt.Printf("%s has no recorded failures\n", origin)
		return
	}

	if err := c.App.Service.Unblock(ctx, origin); err != nil {
		exitError("failed to unblock %s: %v", origin, err)
	}
	color.New(color.FgGreen).Printf("Cleared %d failed attempt(s) for %s\n", rec.AttemptsCount, origin)
}
