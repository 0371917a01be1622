package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/psantana5/earthfetch/pkg/models"
)

// The SQL ledgers keep the indexed columns next to the full job document

func marshalJob(job *models.Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return data, nil
}

func scanJobs(rows *sql.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		job, err := unmarshalJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func unmarshalJob(data []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// splitID accepts "id" or "service/id"
func splitID(id string) (service, remote string) {
	if i := strings.Index(id, "/"); i > 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// listQuery builds the WHERE clause of ListJobs; ph renders the n-th
// placeholder for the dialect
func listQuery(base string, filter Filter, ph func(int) string) (string, []interface{}) {
	var where []string
	var args []interface{}
	if filter.Service != "" {
		args = append(args, filter.Service)
		where = append(where, "service = "+ph(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = "+ph(len(args)))
	}
	q := base
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY submitted_at DESC"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return q, args
}
