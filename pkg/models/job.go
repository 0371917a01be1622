package models

import (
	"time"
)

// JobStatus represents the local status of a remote order
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"   // Order accepted, not yet processing
	JobStatusRunning   JobStatus = "running"   // Order being processed by the service
	JobStatusComplete  JobStatus = "complete"  // Outputs are ready to download
	JobStatusFailed    JobStatus = "failed"    // Service reported a failure
	JobStatusCancelled JobStatus = "cancelled" // Order cancelled on the service side
)

// Job represents an order submitted to a remote subsetting service
type Job struct {
	ID           string            `json:"id" yaml:"id"`
	Service      string            `json:"service" yaml:"service"` // "nsidc", "harmony"
	Status       JobStatus         `json:"status" yaml:"status"`
	RemoteStatus string            `json:"remote_status,omitempty" yaml:"remote_status,omitempty"`
	Progress     int               `json:"progress,omitempty" yaml:"progress,omitempty"` // 0-100%
	Messages     []string          `json:"messages,omitempty" yaml:"messages,omitempty"`
	StatusURL    string            `json:"status_url,omitempty" yaml:"status_url,omitempty"`
	SubmittedAt  time.Time         `json:"submitted_at" yaml:"submitted_at"`
	LastPolledAt *time.Time        `json:"last_polled_at,omitempty" yaml:"last_polled_at,omitempty"`
	Request      *OrderRequest     `json:"request,omitempty" yaml:"request,omitempty"`
	Manifest     []FileDescriptor  `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Transitions  []StateTransition `json:"state_transitions,omitempty" yaml:"state_transitions,omitempty"`
}

// StateTransition tracks job state changes with timestamps
type StateTransition struct {
	From      JobStatus `json:"from" yaml:"from"`
	To        JobStatus `json:"to" yaml:"to"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// StatusReport is a single observation of a job returned by a service
type StatusReport struct {
	Status   JobStatus
	Remote   string
	Progress int
	Messages []string
	Manifest []FileDescriptor
}

// Checksum is an expected digest of a downloadable file
type Checksum struct {
	Algorithm string `json:"algorithm" yaml:"algorithm"` // "MD5", "SHA-256", ...
	Value     string `json:"value" yaml:"value"`         // hex encoded
}

// FileDescriptor describes one output file of a completed job
type FileDescriptor struct {
	URL          string    `json:"url" yaml:"url"`
	Name         string    `json:"name" yaml:"name"`                                       // file name inside the destination directory
	ExpectedSize int64     `json:"expected_size,omitempty" yaml:"expected_size,omitempty"` // 0 when unknown
	Checksum     *Checksum `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// Clone returns a deep copy of the job so callers can hand out snapshots
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Messages = append([]string(nil), j.Messages...)
	c.Manifest = append([]FileDescriptor(nil), j.Manifest...)
	c.Transitions = append([]StateTransition(nil), j.Transitions...)
	if j.LastPolledAt != nil {
		t := *j.LastPolledAt
		c.LastPolledAt = &t
	}
	return &c
}
