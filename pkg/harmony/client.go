package harmony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/psantana5/earthfetch/pkg/auth"
	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/orders"
)

// DefaultRootURL is the production Harmony endpoint
const DefaultRootURL = "https://harmony.earthdata.nasa.gov"

// Client submits and tracks Harmony jobs. It implements orders.Service and
// orders.Canceler.
type Client struct {
	root   string
	logger *logging.Logger
}

// NewClient creates a client; an empty root selects DefaultRootURL
func NewClient(root string, logger *logging.Logger) *Client {
	if root == "" {
		root = DefaultRootURL
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{root: strings.TrimRight(root, "/"), logger: logger}
}

// Name implements orders.Service
func (c *Client) Name() string { return ServiceName }

// Link is one entry of a job's links array
type Link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel,omitempty"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
}

// jobStatus is the JSON body of a job document
type jobStatus struct {
	JobID    string `json:"jobID"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
	Links    []Link `json:"links"`
	Errors   []struct {
		URL     string `json:"url"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

func (c *Client) jobURL(id string) string {
	return c.root + "/jobs/" + url.PathEscape(id)
}

// Submit implements orders.Service
func (c *Client) Submit(ctx context.Context, sess *auth.Session, req *models.OrderRequest) (*models.Job, error) {
	target, err := rangesetURL(c.root, req.Params)
	if err != nil {
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "invalid request", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "invalid request url", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("Submitting Harmony request", logging.Fields{"url": target})
	resp, err := sess.Do(httpReq)
	if err != nil {
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "request failed", Err: err}
	}
	body, err := orders.ReadResponse(ServiceName, resp)
	if err != nil {
		var authErr *orders.AuthenticationError
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "request rejected", Err: err}
	}

	var js jobStatus
	if err := json.Unmarshal(body, &js); err != nil {
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "malformed job response", Err: err}
	}
	if js.JobID == "" {
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "response did not contain a jobID"}
	}
	return &models.Job{ID: js.JobID, StatusURL: c.jobURL(js.JobID), RemoteStatus: js.Status}, nil
}

// Status implements orders.Service
func (c *Client) Status(ctx context.Context, sess *auth.Session, job *models.Job) (*models.StatusReport, error) {
	target := job.StatusURL
	if target == "" {
		target = c.jobURL(job.ID)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid status url: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := sess.Do(httpReq)
	if err != nil {
		return nil, err
	}
	body, err := orders.ReadResponse(ServiceName, resp)
	if err != nil {
		return nil, err
	}

	var js jobStatus
	if err := json.Unmarshal(body, &js); err != nil {
		return nil, fmt.Errorf("malformed status response for job %s: %w", job.ID, err)
	}
	status, ok := mapStatus(js.Status)
	if !ok {
		return nil, fmt.Errorf("job %s: unknown status %q", job.ID, js.Status)
	}

	report := &models.StatusReport{Status: status, Remote: js.Status, Progress: js.Progress}
	if js.Message != "" {
		report.Messages = append(report.Messages, js.Message)
	}
	for _, e := range js.Errors {
		report.Messages = append(report.Messages, e.URL+": "+e.Message)
	}
	if status == models.JobStatusComplete {
		report.Manifest = DataLinks(js.Links)
	}
	return report, nil
}

// Cancel implements orders.Canceler
func (c *Client) Cancel(ctx context.Context, sess *auth.Session, job *models.Job) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jobURL(job.ID)+"/cancel", nil)
	if err != nil {
		return err
	}
	resp, err := sess.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", job.ID, err)
	}
	if _, err := orders.ReadResponse(ServiceName, resp); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", job.ID, err)
	}
	return nil
}

// DataLinks returns the output files of a job. A link without rel is data.
func DataLinks(links []Link) []models.FileDescriptor {
	var files []models.FileDescriptor
	for _, l := range links {
		rel := l.Rel
		if rel == "" {
			rel = "data"
		}
		if rel != "data" || l.Href == "" {
			continue
		}
		name := path.Base(l.Href)
		if u, err := url.Parse(l.Href); err == nil {
			name = path.Base(u.Path)
		}
		files = append(files, models.FileDescriptor{URL: l.Href, Name: name})
	}
	return files
}

func mapStatus(remote string) (models.JobStatus, bool) {
	switch strings.ToLower(remote) {
	case "accepted", "previewing":
		return models.JobStatusPending, true
	case "running", "running_with_errors", "paused":
		return models.JobStatusRunning, true
	case "successful", "complete_with_errors":
		return models.JobStatusComplete, true
	case "failed":
		return models.JobStatusFailed, true
	case "canceled", "cancelled":
		return models.JobStatusCancelled, true
	default:
		return "", false
	}
}
