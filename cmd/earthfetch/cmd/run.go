package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/earthfetch/pkg/workflow"
)

var (
	planFile string
	planDest string
)

// runCmd runs a multi-dataset plan
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every order of a YAML plan concurrently",
	Long: `Submit, poll and download every order described in a plan file. Orders are
independent: a failed order is reported without stopping the others.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&planFile, "plan", "", "plan file (required)")
	runCmd.Flags().StringVar(&planDest, "dest", "", "override the plan destination")
	runCmd.MarkFlagRequired("plan")
}

// planResult is the printable form of one order outcome
type planResult struct {
	Name    string       `json:"name" yaml:"name"`
	JobID   string       `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Status  string       `json:"status,omitempty" yaml:"status,omitempty"`
	Fetch   fetchSummary `json:"fetch,omitempty" yaml:"fetch,omitempty"`
	Error   string       `json:"error,omitempty" yaml:"error,omitempty"`
	Fetched bool         `json:"-" yaml:"-"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	plan, err := workflow.LoadPlan(planFile)
	if err != nil {
		return err
	}
	if planDest != "" {
		plan.Destination = planDest
	}
	if plan.Destination == "" {
		plan.Destination = "."
	}

	st, err := app.store()
	if err != nil {
		return err
	}
	pipelines, err := app.pipelines(st)
	if err != nil {
		return err
	}
	opts, err := pollOptions()
	if err != nil {
		return err
	}

	runner := workflow.NewRunner(pipelines, app.cmr(), opts, app.logger)
	results, err := runner.Run(cmd.Context(), plan)
	if err != nil {
		return err
	}

	out := make([]planResult, len(results))
	failed := 0
	for i, r := range results {
		out[i] = planResult{Name: r.Name}
		if r.Job != nil {
			out[i].JobID = r.Job.ID
			out[i].Status = string(r.Job.Status)
		}
		if r.Fetch != nil {
			out[i].Fetch = summarize(r.Fetch, r.Extracted)
			out[i].Fetched = true
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
			failed++
		}
	}

	if err := render(out, func() {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Order", "Job ID", "Status", "Files", "Size", "Error")
		for _, r := range out {
			files, size := "-", "-"
			if r.Fetched {
				files = fmt.Sprintf("%d/%d", len(r.Fetch.Succeeded), len(r.Fetch.Succeeded)+len(r.Fetch.Failed))
				size = formatBytes(r.Fetch.Bytes)
			}
			table.Append(r.Name, r.JobID, r.Status, files, size, truncate(r.Error, 60))
		}
		table.Render()
	}); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d orders failed", failed, len(results))
	}
	return nil
}
