package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/your-org/facesync/internal/audit"
)

var statusCmd = &cobra.Command{
	Use:   "status <identity-id>",
	Short: "Compare one identity across both stores",
	Args:  cobra.ExactArgs(1),
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	id := parseIdentity(args[0])

	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	st, err := c.App.Service.Status(ctx, id)
	if err != nil {
		exitError("failed to read status: %v", err)
	}
	printStatus(st)
}

func printStatus(st *audit.Status) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	fmt.Printf("Identity %d\n\n", st.IdentityID)

	fmt.Println("Profile index:")
	if st.Index.Exists {
		fmt.Printf("  active:      %v\n", st.Index.Active)
		fmt.Printf("  embeddings:  %d\n", st.Index.EmbeddingsCount)
		fmt.Printf("  document:    %s\n", st.Index.Ref)
		fmt.Printf("  updated:     %s\n", st.Index.LastUpdated.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("  (no profile)")
	}

	fmt.Println("\nEmbedding store:")
	if st.Store.Exists {
		fmt.Printf("  active:      %v\n", st.Store.Active)
		fmt.Printf("  embeddings:  %d\n", st.Store.EmbeddingsCount)
		fmt.Printf("  algorithm:   %s\n", st.Store.AlgorithmVersion)
		fmt.Printf("  updated:     %s\n", st.Store.LastUpdated.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("  (no document)")
	}

	fmt.Println()
	if st.Consistent {
		green.Println("consistent")
	} else {
		red.Println("INCONSISTENT (run 'facesyncctl audit' for a proposed repair)")
	}
}

func parseIdentity(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		exitError("invalid identity id %q", s)
	}
	return id
}
