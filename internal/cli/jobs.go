package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/printdesk/pkg/journal"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent print jobs",
	Long:  `List the most recent submissions recorded in the job journal, newest first.`,
	RunE:  runJobs,
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "number of jobs to show")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.Journal.Enabled {
		return fmt.Errorf("job journal is disabled")
	}
	if _, err := os.Stat(cfg.Journal.Path); os.IsNotExist(err) {
		cmd.Println("No jobs recorded")
		return nil
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("failed to open job journal: %w", err)
	}
	defer j.Close()

	entries, err := j.Recent(context.Background(), jobsLimit)
	if err != nil {
		return fmt.Errorf("failed to read job journal: %w", err)
	}
	if len(entries) == 0 {
		cmd.Println("No jobs recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCHAT\tDOCUMENT\tCOPIES\tCOLOR\tOUTCOME\tDETAIL")
	for _, e := range entries {
		detail := e.JobID
		if e.Outcome == journal.OutcomeFailed {
			detail = e.ErrorKind
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.ConversationID, e.DocumentName, e.Copies, e.ColorMode, e.Outcome, detail)
	}
	return w.Flush()
}
