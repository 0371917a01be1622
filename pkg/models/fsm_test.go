package models

import (
	"testing"
	"time"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		// Valid transitions
		{"Pending to Running", JobStatusPending, JobStatusRunning, false},
		{"Pending to Failed", JobStatusPending, JobStatusFailed, false},
		{"Running to Complete", JobStatusRunning, JobStatusComplete, false},
		{"Running to Failed", JobStatusRunning, JobStatusFailed, false},
		{"Running to Cancelled", JobStatusRunning, JobStatusCancelled, false},

		// Invalid transitions
		{"Pending to Complete", JobStatusPending, JobStatusComplete, true},
		{"Pending to Cancelled", JobStatusPending, JobStatusCancelled, true},
		{"Running to Pending", JobStatusRunning, JobStatusPending, true},
		{"Complete to Running", JobStatusComplete, JobStatusRunning, true},
		{"Failed to Running", JobStatusFailed, JobStatusRunning, true},
		{"Cancelled to Pending", JobStatusCancelled, JobStatusPending, true},
		{"Unknown source", JobStatus("paused"), JobStatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		state    JobStatus
		expected bool
	}{
		{"Complete is terminal", JobStatusComplete, true},
		{"Failed is terminal", JobStatusFailed, true},
		{"Cancelled is terminal", JobStatusCancelled, true},
		{"Pending is not terminal", JobStatusPending, false},
		{"Running is not terminal", JobStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsTerminalState(tt.state)
			if result != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, result, tt.expected)
			}
		})
	}
}

func statuses(j *Job) []JobStatus {
	out := []JobStatus{JobStatusPending}
	for _, tr := range j.Transitions {
		out = append(out, tr.To)
	}
	return out
}

func equalPath(a, b []JobStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAdvance(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		observed []JobStatus
		want     []JobStatus
	}{
		{
			name:     "Normal completion",
			observed: []JobStatus{JobStatusPending, JobStatusRunning, JobStatusRunning, JobStatusComplete},
			want:     []JobStatus{JobStatusPending, JobStatusRunning, JobStatusComplete},
		},
		{
			name:     "Complete on first poll inserts Running",
			observed: []JobStatus{JobStatusComplete},
			want:     []JobStatus{JobStatusPending, JobStatusRunning, JobStatusComplete},
		},
		{
			name:     "Cancelled while pending inserts Running",
			observed: []JobStatus{JobStatusCancelled},
			want:     []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCancelled},
		},
		{
			name:     "Rejected while pending",
			observed: []JobStatus{JobStatusFailed},
			want:     []JobStatus{JobStatusPending, JobStatusFailed},
		},
		{
			name:     "Regression ignored",
			observed: []JobStatus{JobStatusRunning, JobStatusPending, JobStatusFailed},
			want:     []JobStatus{JobStatusPending, JobStatusRunning, JobStatusFailed},
		},
		{
			name:     "Terminal state is never left",
			observed: []JobStatus{JobStatusComplete, JobStatusRunning, JobStatusFailed},
			want:     []JobStatus{JobStatusPending, JobStatusRunning, JobStatusComplete},
		},
		{
			name:     "Unknown status ignored",
			observed: []JobStatus{JobStatus("paused"), JobStatusRunning},
			want:     []JobStatus{JobStatusPending, JobStatusRunning},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{ID: "j1", Status: JobStatusPending}
			for _, s := range tt.observed {
				job.Advance(s, "poll", now)
			}
			if got := statuses(job); !equalPath(got, tt.want) {
				t.Errorf("path = %v, want %v", got, tt.want)
			}
			for _, tr := range job.Transitions {
				if err := ValidateTransition(tr.From, tr.To); err != nil {
					t.Errorf("recorded illegal transition: %v", err)
				}
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	polled := time.Now()
	job := &Job{
		ID:           "j1",
		Messages:     []string{"a"},
		Manifest:     []FileDescriptor{{URL: "http://x/a.h5", Name: "a.h5"}},
		LastPolledAt: &polled,
	}
	c := job.Clone()
	c.Messages[0] = "b"
	c.Manifest[0].Name = "b.h5"
	*c.LastPolledAt = polled.Add(time.Hour)

	if job.Messages[0] != "a" || job.Manifest[0].Name != "a.h5" || !job.LastPolledAt.Equal(polled) {
		t.Errorf("Clone shares state with original: %+v", job)
	}
}
