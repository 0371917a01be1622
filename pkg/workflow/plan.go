package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/psantana5/earthfetch/pkg/models"
)

// Plan describes several independent orders to run together
type Plan struct {
	Destination string      `yaml:"destination"`
	Concurrency int         `yaml:"concurrency,omitempty"` // orders in flight; 0 means all
	Poll        PollSpec    `yaml:"poll,omitempty"`
	Orders      []OrderSpec `yaml:"orders"`
}

// PollSpec overrides the poll cadence for every order in the plan
type PollSpec struct {
	Interval time.Duration `yaml:"interval,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Backoff  string        `yaml:"backoff,omitempty"`
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`
}

// OrderSpec is one dataset order
type OrderSpec struct {
	Name         string            `yaml:"name"`
	Service      string            `yaml:"service"`
	ShortName    string            `yaml:"short_name"`
	Version      string            `yaml:"version"`
	Provider     string            `yaml:"provider,omitempty"`
	BoundingBox  string            `yaml:"bounding_box"`
	Temporal     string            `yaml:"temporal"`
	Variables    []string          `yaml:"variables,omitempty"`
	Format       string            `yaml:"format,omitempty"`
	Email        string            `yaml:"email,omitempty"`
	CollectionID string            `yaml:"collection_id,omitempty"`
	Options      map[string]string `yaml:"options,omitempty"`
	Extract      bool              `yaml:"extract,omitempty"`
}

// LoadPlan reads a YAML plan file
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes and validates a YAML plan
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every order before anything is submitted
func (p *Plan) Validate() error {
	if len(p.Orders) == 0 {
		return fmt.Errorf("plan has no orders")
	}
	names := make(map[string]bool)
	for i := range p.Orders {
		o := &p.Orders[i]
		if o.Name == "" {
			o.Name = fmt.Sprintf("%s-%s", o.ShortName, o.Version)
		}
		if names[o.Name] {
			return fmt.Errorf("duplicate order name %q", o.Name)
		}
		names[o.Name] = true
		if o.Service == "" {
			return fmt.Errorf("order %s: service is required", o.Name)
		}
		c, err := o.Criteria()
		if err != nil {
			return fmt.Errorf("order %s: %w", o.Name, err)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("order %s: %w", o.Name, err)
		}
	}
	return nil
}

// Criteria parses the order's search criteria
func (o OrderSpec) Criteria() (models.SearchCriteria, error) {
	box, err := models.ParseBoundingBox(o.BoundingBox)
	if err != nil {
		return models.SearchCriteria{}, err
	}
	tr, err := models.ParseTemporalRange(o.Temporal)
	if err != nil {
		return models.SearchCriteria{}, err
	}
	return models.SearchCriteria{
		ShortName:   o.ShortName,
		Version:     o.Version,
		Provider:    o.Provider,
		BoundingBox: box,
		Temporal:    tr,
	}, nil
}

// OrderOptions returns the service options of the order
func (o OrderSpec) OrderOptions() models.OrderOptions {
	return models.OrderOptions{
		Variables:    o.Variables,
		Format:       o.Format,
		Email:        o.Email,
		CollectionID: o.CollectionID,
		Extra:        o.Options,
	}
}
