package orders

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/psantana5/earthfetch/pkg/auth"
	"github.com/psantana5/earthfetch/pkg/models"
)

// Service is an asynchronous order/subset service
type Service interface {
	// Name identifies the service in job records ("nsidc", "harmony")
	Name() string
	// Submit sends one order request and returns the accepted job
	Submit(ctx context.Context, sess *auth.Session, req *models.OrderRequest) (*models.Job, error)
	// Status reads the current remote state of job without changing it
	Status(ctx context.Context, sess *auth.Session, job *models.Job) (*models.StatusReport, error)
}

// Canceler is implemented by services that can cancel a job remotely
type Canceler interface {
	Cancel(ctx context.Context, sess *auth.Session, job *models.Job) error
}

// Credentials supplies the authenticated session for each network call
type Credentials interface {
	Session(ctx context.Context) (*auth.Session, error)
}

// StaticCredentials always returns the same session
type StaticCredentials struct {
	S *auth.Session
}

// Session implements Credentials
func (c StaticCredentials) Session(context.Context) (*auth.Session, error) {
	if c.S == nil {
		return nil, fmt.Errorf("no session configured")
	}
	return c.S, nil
}

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4096

// ReadResponse reads a service response. Non-2xx statuses become an
// AuthenticationError (401/403) or a StatusError.
func ReadResponse(service string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if IsAuthStatus(resp.StatusCode) {
			return nil, &AuthenticationError{Service: service, StatusCode: resp.StatusCode, Message: string(body)}
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
