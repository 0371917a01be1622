package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/orders"
)

// render prints v as JSON or YAML, or calls table for the default format
func render(v interface{}, table func()) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "table", "":
		table()
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
	}
}

func printJob(job *models.Job) error {
	return render(job, func() {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("Job ID", job.ID)
		table.Append("Service", job.Service)
		table.Append("Status", string(job.Status))
		if job.RemoteStatus != "" {
			table.Append("Remote Status", job.RemoteStatus)
		}
		table.Append("Progress", fmt.Sprintf("%d%%", job.Progress))
		table.Append("Submitted At", job.SubmittedAt.Format(time.RFC3339))
		if job.LastPolledAt != nil {
			table.Append("Last Polled", job.LastPolledAt.Format(time.RFC3339))
		}
		if job.StatusURL != "" {
			table.Append("Status URL", job.StatusURL)
		}
		for _, msg := range job.Messages {
			table.Append("Message", msg)
		}
		for _, f := range job.Manifest {
			table.Append("File", f.Name)
		}
		table.Render()
	})
}

func printJobs(jobs []*models.Job) error {
	return render(jobs, func() {
		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Job ID", "Service", "Status", "Remote", "Progress", "Files", "Submitted")
		for _, job := range jobs {
			table.Append(
				job.ID,
				job.Service,
				string(job.Status),
				job.RemoteStatus,
				fmt.Sprintf("%d%%", job.Progress),
				fmt.Sprintf("%d", len(job.Manifest)),
				job.SubmittedAt.Format("2006-01-02 15:04"),
			)
		}
		table.Render()
	})
}

// fetchSummary is the printable form of a fetch result
type fetchSummary struct {
	JobID     string            `json:"job_id" yaml:"job_id"`
	Outcome   orders.Outcome    `json:"outcome" yaml:"outcome"`
	Bytes     int64             `json:"bytes" yaml:"bytes"`
	Succeeded []string          `json:"succeeded" yaml:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
	Extracted []string          `json:"extracted,omitempty" yaml:"extracted,omitempty"`
}

func summarize(r *orders.FetchResult, extracted []string) fetchSummary {
	s := fetchSummary{JobID: r.JobID, Outcome: r.Outcome(), Bytes: r.Bytes, Succeeded: r.Succeeded, Extracted: extracted}
	for _, f := range r.Failed {
		if s.Failed == nil {
			s.Failed = make(map[string]string)
		}
		s.Failed[f.File.Name] = f.Err.Error()
	}
	return s
}

func printFetch(r *orders.FetchResult) error {
	s := summarize(r, nil)
	return render(s, func() {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("File", "Result")
		for _, path := range s.Succeeded {
			table.Append(path, "ok")
		}
		for name, err := range s.Failed {
			table.Append(name, truncate(err, 80))
		}
		table.Render()
		fmt.Printf("\nOutcome: %s (%s)\n", s.Outcome, formatBytes(s.Bytes))
	})
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
