package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/arielsync/internal/db"
	"github.com/raphaelgruber/arielsync/internal/models"
)

var (
	runsClient string
	runsRunID  string
	runsQuery  string
	runsStatus string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent window outcomes of a client",
	Long: `List the window ledger of one client database, most recent first.

Examples:
  arielsync runs --client "Acme Corp"
  arielsync runs -c "Acme Corp" --status lost --limit 200
  arielsync runs -c "Acme Corp" --run 6f1c... --query "Firewall Deny"`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVarP(&runsClient, "client", "c", "", "client name (required)")
	runsCmd.Flags().StringVar(&runsRunID, "run", "", "only this run id")
	runsCmd.Flags().StringVarP(&runsQuery, "query", "q", "", "only this query template")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "only this status (completed, no_records, lost)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 50, "maximum number of entries")
	_ = runsCmd.MarkFlagRequired("client")
}

func runRuns(cmd *cobra.Command, args []string) error {
	status := models.WindowStatus(runsStatus)
	switch status {
	case "", models.WindowCompleted, models.WindowNoRecords, models.WindowLost:
	default:
		return fmt.Errorf("invalid status: %s", runsStatus)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client, err := db.NewClient(ctx, cfg.DB(), logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()

	found, err := client.OpenLedger(ctx, models.SanitizeClient(runsClient))
	if err != nil {
		return fmt.Errorf("select client database: %w", err)
	}
	if !found {
		printRuns(cmd.OutOrStdout(), nil)
		return nil
	}

	outcomes, err := client.ListWindowRuns(ctx, db.WindowRunFilter{
		RunID:  runsRunID,
		Query:  runsQuery,
		Status: status,
		Limit:  runsLimit,
	})
	if err != nil {
		return err
	}

	printRuns(cmd.OutOrStdout(), outcomes)
	return nil
}

func printRuns(w io.Writer, outcomes []models.WindowOutcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "No window runs found")
		return
	}

	t := themeFor(w)
	fmt.Fprintln(w, t.header(fmt.Sprintf("%-19s  %-24s  %-8s  %-10s  %8s  %8s  %s",
		"WINDOW START", "QUERY", "EP", "STATUS", "FOUND", "INSERTED", "RUN")))

	for _, o := range outcomes {
		fmt.Fprintf(w, "%-19s  %-24s  %-8s  %s  %8d  %8d  %s\n",
			o.WindowStart.Format(models.BoundLayout),
			truncate(o.Query, 24),
			o.EventProcessor,
			t.status(o.Status),
			o.RecordsFound,
			o.RecordsInserted,
			shortID(o.RunID))
		if o.Error != "" {
			fmt.Fprintf(w, "  %s\n", t.hint(o.Error))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
