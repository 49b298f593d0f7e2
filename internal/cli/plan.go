package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/arielsync/internal/config"
	"github.com/raphaelgruber/arielsync/internal/models"
	"github.com/raphaelgruber/arielsync/internal/planner"
)

var (
	planProcessor string
	planClient    string
	planQueries   []string
	planFrom      string
	planTo        string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the windows and expressions a run would submit",
	Long: `Print the time windows and resolved AQL expressions that "arielsync run"
would submit for one event processor and client. Nothing is sent to the
console or the database.

Examples:
  arielsync plan --processor 104 --client "Acme Corp"
  arielsync plan -p 104 -c "Acme Corp" --query "Firewall Deny" --from 2024-03-01`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planProcessor, "processor", "p", "", "event processor id (required)")
	planCmd.Flags().StringVarP(&planClient, "client", "c", "", "client name (required)")
	planCmd.Flags().StringSliceVarP(&planQueries, "query", "q", nil, "only these query templates")
	planCmd.Flags().StringVar(&planFrom, "from", "", "range start (default: midnight yesterday)")
	planCmd.Flags().StringVar(&planTo, "to", "", "range end (default: midnight today)")
	_ = planCmd.MarkFlagRequired("processor")
	_ = planCmd.MarkFlagRequired("client")
}

func runPlan(cmd *cobra.Command, args []string) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	from, to, err := resolveRange(planFrom, planTo, loc, time.Now())
	if err != nil {
		return err
	}

	inputs, err := config.LoadInputs(cfg.EPClientsFile, cfg.QueriesFile, cfg.ShortQueries)
	if err != nil {
		return fmt.Errorf("load inputs: %w", err)
	}
	templates, err := selectTemplates(inputs.Templates, planQueries)
	if err != nil {
		return err
	}

	printPlan(cmd.OutOrStdout(), planProcessor, planClient, templates, from, to, cfg.ShortWindow, cfg.LongWindow)
	return nil
}

// selectTemplates keeps the named templates, in input order. No names keeps
// all of them.
func selectTemplates(all []models.QueryTemplate, names []string) ([]models.QueryTemplate, error) {
	if len(names) == 0 {
		return all, nil
	}
	for _, name := range names {
		if !slices.ContainsFunc(all, func(t models.QueryTemplate) bool { return t.Name == name }) {
			return nil, fmt.Errorf("unknown query: %s", name)
		}
	}
	return slices.DeleteFunc(slices.Clone(all), func(t models.QueryTemplate) bool {
		return !slices.Contains(names, t.Name)
	}), nil
}

func printPlan(w io.Writer, processor, client string, templates []models.QueryTemplate, from, to time.Time, short, long time.Duration) {
	t := themeFor(w)
	total := 0

	for i, tmpl := range templates {
		d := planner.Duration(tmpl.Class, short, long)
		windows := planner.Windows(from, to, d)
		total += len(windows)

		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, t.header(fmt.Sprintf("%s [%s, %s windows]", tmpl.Name, tmpl.Class, d)))
		fmt.Fprintln(w, t.hint(fmt.Sprintf("database=%s collection=%s windows=%d",
			models.SanitizeClient(client), models.CollectionName(tmpl.Name), len(windows))))

		for _, win := range windows {
			task := models.NewQueryTask(processor, client, tmpl, win)
			fmt.Fprintf(w, "  %s\n", win)
			fmt.Fprintf(w, "    %s\n", task.Expression)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d searches for processor %s, client %s\n", total, processor, client)
}
