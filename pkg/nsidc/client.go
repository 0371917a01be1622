package nsidc

import (
	"context"
	"encoding/xml"
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

// DefaultBaseURL is the production EGI host
const DefaultBaseURL = "https://n5eil02u.ecs.nsidc.org"

// Client submits and tracks EGI orders. It implements orders.Service.
type Client struct {
	baseURL string
	logger  *logging.Logger
}

// NewClient creates a client; an empty baseURL selects DefaultBaseURL
func NewClient(baseURL string, logger *logging.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Name implements orders.Service
func (c *Client) Name() string { return ServiceName }

// agentResponse is the root element of every EGI reply. The root is
// namespaced (eesi:agentResponse) so it is matched by shape, not name.
type agentResponse struct {
	Order struct {
		OrderID string `xml:"orderId"`
	} `xml:"order"`
	RequestStatus struct {
		Status          string `xml:"status"`
		NumberProcessed int    `xml:"numberProcessed"`
		TotalNumber     int    `xml:"totalNumber"`
	} `xml:"requestStatus"`
	ProcessInfo struct {
		Info []string `xml:",any"`
	} `xml:"processInfo"`
	DownloadURLs []string `xml:"downloadUrls>downloadUrl"`
	Exception    struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"exception"`
}

func (c *Client) requestURL(id string) string {
	if id == "" {
		return c.baseURL + "/egi/request"
	}
	return c.baseURL + "/egi/request/" + url.PathEscape(id)
}

// Submit implements orders.Service
func (c *Client) Submit(ctx context.Context, sess *auth.Session, req *models.OrderRequest) (*models.Job, error) {
	target := c.requestURL("") + "?" + req.Params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "invalid request url", Err: err}
	}

	c.logger.Debug("Submitting EGI order", logging.Fields{"url": target})
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
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "order rejected", Err: err}
	}

	var ar agentResponse
	if err := xml.Unmarshal(body, &ar); err != nil {
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "malformed order response", Err: err}
	}
	if ar.Exception.Message != "" {
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: strings.TrimSpace(ar.Exception.Code + " " + ar.Exception.Message)}
	}
	id := strings.TrimSpace(ar.Order.OrderID)
	if id == "" {
		return nil, &orders.SubmissionError{Service: ServiceName, Reason: "response did not contain an order id"}
	}
	return &models.Job{ID: id, StatusURL: c.requestURL(id)}, nil
}

// Status implements orders.Service
func (c *Client) Status(ctx context.Context, sess *auth.Session, job *models.Job) (*models.StatusReport, error) {
	target := job.StatusURL
	if target == "" {
		target = c.requestURL(job.ID)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid status url: %w", err)
	}
	resp, err := sess.Do(httpReq)
	if err != nil {
		return nil, err
	}
	body, err := orders.ReadResponse(ServiceName, resp)
	if err != nil {
		return nil, err
	}

	var ar agentResponse
	if err := xml.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("malformed status response for order %s: %w", job.ID, err)
	}
	remote := strings.TrimSpace(ar.RequestStatus.Status)
	status, ok := mapStatus(remote)
	if !ok {
		return nil, fmt.Errorf("order %s: unknown status %q", job.ID, remote)
	}

	report := &models.StatusReport{Status: status, Remote: remote}
	for _, msg := range ar.ProcessInfo.Info {
		if msg = strings.TrimSpace(msg); msg != "" {
			report.Messages = append(report.Messages, msg)
		}
	}
	if ar.RequestStatus.TotalNumber > 0 {
		report.Progress = 100 * ar.RequestStatus.NumberProcessed / ar.RequestStatus.TotalNumber
	}
	if status == models.JobStatusComplete {
		report.Progress = 100
		report.Manifest = c.manifest(job.ID, ar.DownloadURLs)
	}
	return report, nil
}

// manifest lists the order outputs. EGI returns one zip per page; when no
// links are given the whole order is a single zip under /esir.
func (c *Client) manifest(id string, links []string) []models.FileDescriptor {
	var files []models.FileDescriptor
	for _, link := range links {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		name := link
		if u, err := url.Parse(link); err == nil {
			name = path.Base(u.Path)
		}
		files = append(files, models.FileDescriptor{URL: link, Name: name})
	}
	if len(files) == 0 {
		files = append(files, models.FileDescriptor{
			URL:  c.baseURL + "/esir/" + url.PathEscape(id) + ".zip",
			Name: id + ".zip",
		})
	}
	return files
}

// mapStatus folds EGI request statuses into job states. complete_with_errors
// still produces outputs and is treated as complete; its messages are kept.
func mapStatus(remote string) (models.JobStatus, bool) {
	switch strings.ToLower(remote) {
	case "pending":
		return models.JobStatusPending, true
	case "processing":
		return models.JobStatusRunning, true
	case "complete", "complete_with_errors":
		return models.JobStatusComplete, true
	case "failed":
		return models.JobStatusFailed, true
	case "canceled", "cancelled":
		return models.JobStatusCancelled, true
	default:
		return "", false
	}
}
