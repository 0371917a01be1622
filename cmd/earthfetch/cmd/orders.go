package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psantana5/earthfetch/pkg/harmony"
	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/orders"
	"github.com/psantana5/earthfetch/pkg/query"
	"github.com/psantana5/earthfetch/pkg/store"
)

var (
	// Order submit flags
	submitCriteria criteriaFlags
	submitService  string
	variables      []string
	format         string
	email          string
	collectionID   string
	extraOptions   map[string]string
	waitAfter      bool
	dryRun         bool

	// Shared flags
	destination string
	listService string
	listStatus  string
	listLimit   int
)

// ordersCmd represents the orders command
var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Manage subsetting orders",
	Long:  `Commands for submitting, tracking, downloading and cancelling asynchronous orders.`,
}

var ordersSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new order",
	Long: `Build an order from the dataset filters and submit it. The job is recorded
in the ledger so it can be polled and fetched later, even from another process.`,
	RunE: runOrdersSubmit,
}

var ordersStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Check an order once",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrdersStatus,
}

var ordersWaitCmd = &cobra.Command{
	Use:   "wait <job-id>",
	Short: "Poll an order until it finishes",
	Long: `Poll the order until it is complete, failed or cancelled. Interrupting the
command stops polling only; the remote order keeps running and can be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: runOrdersWait,
}

var ordersFetchCmd = &cobra.Command{
	Use:   "fetch <job-id>",
	Short: "Download the outputs of a complete order",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrdersFetch,
}

var ordersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List orders in the ledger",
	RunE:  runOrdersList,
}

var ordersCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel an order on the remote service",
	Long:  `Ask the service to cancel the order. Only Harmony supports remote cancellation.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runOrdersCancel,
}

func init() {
	rootCmd.AddCommand(ordersCmd)
	ordersCmd.AddCommand(ordersSubmitCmd)
	ordersCmd.AddCommand(ordersStatusCmd)
	ordersCmd.AddCommand(ordersWaitCmd)
	ordersCmd.AddCommand(ordersFetchCmd)
	ordersCmd.AddCommand(ordersListCmd)
	ordersCmd.AddCommand(ordersCancelCmd)

	fs := ordersSubmitCmd.Flags()
	submitCriteria.register(fs)
	fs.StringVar(&submitService, "service", "nsidc", "subsetting service: nsidc or harmony")
	fs.StringSliceVar(&variables, "variables", nil, "variables to subset (comma separated)")
	fs.StringVar(&format, "format", "", "output format (service specific)")
	fs.StringVar(&email, "email", "", "notification email (NSIDC)")
	fs.StringVar(&collectionID, "collection-id", "", "collection concept id (Harmony; looked up in CMR when empty)")
	fs.StringToStringVar(&extraOptions, "option", nil, "extra service parameter key=value (repeatable)")
	fs.BoolVar(&waitAfter, "wait", false, "poll until the order finishes, then download it")
	fs.BoolVar(&dryRun, "dry-run", false, "print the encoded request without submitting")
	fs.StringVar(&destination, "dest", ".", "download directory for --wait")
	for _, name := range []string{"short-name", "version", "bbox", "temporal"} {
		ordersSubmitCmd.MarkFlagRequired(name)
	}

	ordersFetchCmd.Flags().StringVar(&destination, "dest", ".", "download directory")

	ordersListCmd.Flags().StringVar(&listService, "service", "", "filter by service")
	ordersListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	ordersListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of jobs")
}

func runOrdersSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	criteria, err := submitCriteria.criteria()
	if err != nil {
		return err
	}
	svc, enc, err := app.service(submitService)
	if err != nil {
		return err
	}

	opts := models.OrderOptions{
		Variables:    variables,
		Format:       format,
		Email:        email,
		CollectionID: collectionID,
		Extra:        extraOptions,
	}
	if submitService == harmony.ServiceName && opts.CollectionID == "" {
		id, err := app.cmr().CollectionID(ctx, criteria.ShortName, criteria.Version, criteria.Provider)
		if err != nil {
			return fmt.Errorf("failed to resolve collection id: %w", err)
		}
		opts.CollectionID = id
	}

	req, err := query.Build(criteria, opts, enc)
	if err != nil {
		return err
	}
	if dryRun {
		return render(req, func() { fmt.Println(req.Params.Encode()) })
	}

	st, err := app.store()
	if err != nil {
		return err
	}
	job, err := app.submitter(svc, st).Submit(ctx, req)
	if err != nil {
		return err
	}
	if !waitAfter {
		if outputFormat == "table" {
			fmt.Printf("Order submitted: %s (%s)\n", job.ID, job.Service)
		}
		return printJob(job)
	}
	return waitAndFetch(cmd, svc, st, job, destination)
}

func runOrdersStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := app.store()
	if err != nil {
		return err
	}
	job, err := app.loadJob(ctx, st, args[0])
	if err != nil {
		return err
	}
	if !models.IsTerminalState(job.Status) {
		svc, _, err := app.service(job.Service)
		if err != nil {
			return err
		}
		if err := app.poller(svc, st).Poll(ctx, job); err != nil {
			return err
		}
	}
	return printJob(job)
}

func runOrdersWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := app.store()
	if err != nil {
		return err
	}
	job, err := app.loadJob(ctx, st, args[0])
	if err != nil {
		return err
	}
	svc, _, err := app.service(job.Service)
	if err != nil {
		return err
	}
	job, err = wait(cmd, svc, st, job)
	if err != nil {
		return err
	}
	return printJob(job)
}

// wait polls job to a terminal state and turns unsuccessful endings into errors
func wait(cmd *cobra.Command, svc orders.Service, st store.Store, job *models.Job) (*models.Job, error) {
	opts, err := pollOptions()
	if err != nil {
		return job, err
	}
	job, err = app.poller(svc, st).PollUntilTerminal(cmd.Context(), job, opts)
	if errors.Is(err, orders.ErrPollTimeout) {
		return job, fmt.Errorf("%w; resume with: earthfetch orders wait %s", err, job.ID)
	}
	if err != nil {
		return job, err
	}
	if cmd.Context().Err() != nil {
		app.logger.Info("Stopped polling", logging.Fields{"job_id": job.ID, "status": job.Status})
		return job, fmt.Errorf("interrupted; job %s is still %s, resume with: earthfetch orders wait %s", job.ID, job.Status, job.ID)
	}
	switch job.Status {
	case models.JobStatusComplete:
		return job, nil
	default:
		return job, fmt.Errorf("job %s ended %s (remote status %q): %s",
			job.ID, job.Status, job.RemoteStatus, strings.Join(job.Messages, "; "))
	}
}

func waitAndFetch(cmd *cobra.Command, svc orders.Service, st store.Store, job *models.Job, dest string) error {
	job, err := wait(cmd, svc, st, job)
	if err != nil {
		return err
	}
	return fetch(cmd, job, dest)
}

func fetch(cmd *cobra.Command, job *models.Job, dest string) error {
	result, err := app.fetcher().Fetch(cmd.Context(), job, dest)
	if result != nil {
		if perr := printFetch(result); perr != nil {
			return perr
		}
	}
	return err
}

func runOrdersFetch(cmd *cobra.Command, args []string) error {
	st, err := app.store()
	if err != nil {
		return err
	}
	job, err := app.loadJob(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	return fetch(cmd, job, destination)
}

func runOrdersList(cmd *cobra.Command, args []string) error {
	st, err := app.store()
	if err != nil {
		return err
	}
	filter := store.Filter{Service: listService, Status: models.JobStatus(listStatus), Limit: listLimit}
	if filter.Status != "" && !models.IsValidStatus(filter.Status) {
		return fmt.Errorf("unknown status %q", listStatus)
	}
	jobs, err := st.ListJobs(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return printJobs(jobs)
}

func runOrdersCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := app.store()
	if err != nil {
		return err
	}
	job, err := app.loadJob(ctx, st, args[0])
	if err != nil {
		return err
	}
	if models.IsTerminalState(job.Status) {
		return fmt.Errorf("job %s is already %s", job.ID, job.Status)
	}
	svc, _, err := app.service(job.Service)
	if err != nil {
		return err
	}
	canceler, ok := svc.(orders.Canceler)
	if !ok {
		return fmt.Errorf("service %s does not support remote cancellation", job.Service)
	}
	sess, err := app.creds.Session(ctx)
	if err != nil {
		return err
	}
	if err := canceler.Cancel(ctx, sess, job); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Cancellation requested for %s; the next status check records it\n", job.ID)
	return nil
}
