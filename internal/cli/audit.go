package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/your-org/facesync/internal/audit"
)

var (
	auditJSON   bool
	applyYes    bool
	applyOnly   []int64
	applyDryRun bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report divergence between the embedding store and the profile index",
	Long: `Run a read-only consistency audit. Every orphaned identity gets a proposed
repair; nothing is changed. Use 'facesyncctl apply' to execute proposals.`,
	Run: runAudit,
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Audit and apply the proposed repairs",
	Long: `Run an audit, show the proposed repairs and apply them after confirmation.
Each repair re-checks the identity first, so stale proposals are skipped.`,
	Run: runApply,
}

func init() {
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print the report as JSON")

	applyCmd.Flags().BoolVarP(&applyYes, "yes", "y", false, "apply without asking")
	applyCmd.Flags().Int64SliceVar(&applyOnly, "identity", nil, "only apply proposals for these identities")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "show proposals and exit")
}

func runAudit(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	report, err := c.App.Service.Audit(ctx)
	if err != nil {
		exitError("audit failed: %v", err)
	}

	if auditJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			exitError("encode report: %v", err)
		}
		return
	}
	printReport(report)
}

func printReport(r *audit.Report) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	fmt.Printf("Audit at %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  active profiles:         %d\n", r.IndexActive)
	fmt.Printf("  active embedding sets:   %d\n", r.StoreActive)

	if r.Consistent {
		fmt.Println()
		green.Println("Stores are consistent")
		return
	}

	fmt.Println()
	if len(r.OrphanedInStore) > 0 {
		yellow.Printf("Orphaned in store (%d): %s\n", len(r.OrphanedInStore), joinIDs(r.OrphanedInStore))
	}
	if len(r.OrphanedInIndex) > 0 {
		red.Printf("Orphaned in index (%d): %s\n", len(r.OrphanedInIndex), joinIDs(r.OrphanedInIndex))
	}

	fmt.Println("\nProposed repairs:")
	cyan.Println("  (use \"facesyncctl apply\" to execute)")
	fmt.Println()
	for _, p := range r.Proposals {
		printProposal(p)
	}
}

func printProposal(p audit.Proposal) {
	label := color.New(color.FgYellow)
	if p.Action == audit.ActionDeleteEmbeddings {
		label = color.New(color.FgRed)
	}
	name := ""
	if p.IdentityName != "" {
		name = " (" + p.IdentityName + ")"
	}
	label.Printf("        %-20s", p.Action)
	fmt.Printf(" %d%s: %s\n", p.IdentityID, name, p.Reason)
}

func runApply(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	report, err := c.App.Service.Audit(ctx)
	if err != nil {
		exitError("audit failed: %v", err)
	}

	proposals := selectProposals(report.Proposals, applyOnly)
	if len(proposals) == 0 {
		color.New(color.FgGreen).Println("Nothing to repair")
		return
	}

	fmt.Println("Proposed repairs:")
	for _, p := range proposals {
		printProposal(p)
	}
	if applyDryRun {
		return
	}
	if !applyYes && !confirm(fmt.Sprintf("\nApply %d repair(s)?", len(proposals))) {
		fmt.Println("Aborted")
		return
	}

	results := c.App.Applier.Apply(ctx, proposals)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Println()
	failed := 0
	for _, res := range results {
		switch res.Outcome {
		case audit.OutcomeApplied:
			green.Printf("applied  ")
		case audit.OutcomeSkipped:
			yellow.Printf("skipped  ")
		default:
			red.Printf("failed   ")
			failed++
		}
		fmt.Printf("%s %d", res.Proposal.Action, res.Proposal.IdentityID)
		if res.Detail != "" {
			fmt.Printf(" (%s)", res.Detail)
		}
		fmt.Println()
	}
	if failed > 0 {
		exitError("%d repair(s) failed", failed)
	}
}

// selectProposals keeps the proposals for the given identities, or all of
// them when ids is empty.
func selectProposals(all []audit.Proposal, ids []int64) []audit.Proposal {
	if len(ids) == 0 {
		return all
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []audit.Proposal
	for _, p := range all {
		if want[p.IdentityID] {
			out = append(out, p)
		}
	}
	return out
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
