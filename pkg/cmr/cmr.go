// Package cmr queries the NASA Common Metadata Repository for granules,
// collections and the services associated with them.
package cmr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/orders"
)

// DefaultBaseURL is the production CMR endpoint
const DefaultBaseURL = "https://cmr.earthdata.nasa.gov"

// pageSize is the number of entries requested per page
const pageSize = 100

// ErrNotFound means a search matched nothing
var ErrNotFound = errors.New("no matching entries")

// Doer sends HTTP requests; *auth.Session and *http.Client both satisfy it
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is a CMR search client
type Client struct {
	baseURL  string
	doer     Doer
	maxPages int
	logger   *logging.Logger
}

// NewClient creates a client. An empty baseURL selects DefaultBaseURL and a
// nil doer selects http.DefaultClient.
func NewClient(baseURL string, doer Doer, logger *logging.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), doer: doer, maxPages: 50, logger: logger}
}

// Granule is one entry of a granule search
type Granule struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	ProducerID   string  `json:"producer_granule_id,omitempty"`
	TimeStart    string  `json:"time_start,omitempty"`
	TimeEnd      string  `json:"time_end,omitempty"`
	SizeMB       float64 `json:"size_mb"`
	CollectionID string  `json:"collection_concept_id,omitempty"`
	Links        []Link  `json:"links,omitempty"`
}

// Link is a CMR metadata link
type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel,omitempty"`
}

// GranuleResult summarizes a granule search
type GranuleResult struct {
	Hits        int       `json:"hits"`
	Granules    []Granule `json:"granules"`
	TotalSizeMB float64   `json:"total_size_mb"`
}

type feed[T any] struct {
	Feed struct {
		Entry []T `json:"entry"`
	} `json:"feed"`
}

type granuleEntry struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ProducerID   string `json:"producer_granule_id"`
	TimeStart    string `json:"time_start"`
	TimeEnd      string `json:"time_end"`
	GranuleSize  string `json:"granule_size"`
	CollectionID string `json:"collection_concept_id"`
	Links        []Link `json:"links"`
}

func criteriaForm(c models.SearchCriteria) url.Values {
	form := url.Values{}
	form.Set("short_name", c.ShortName)
	form.Set("version", c.Version)
	form.Set("bounding_box", c.BoundingBox.String())
	form.Set("temporal", c.Temporal.String())
	if c.Provider != "" {
		form.Set("provider", c.Provider)
	}
	return form
}

// SearchGranules lists the granules matching c across all result pages
func (c *Client) SearchGranules(ctx context.Context, criteria models.SearchCriteria) (*GranuleResult, error) {
	if err := criteria.Validate(); err != nil {
		return nil, orders.NewInvalidCriteria(err)
	}

	form := criteriaForm(criteria)
	result := &GranuleResult{}
	searchAfter := ""
	for page := 0; page < c.maxPages; page++ {
		resp, err := c.post(ctx, "/search/granules.json", form, searchAfter)
		if err != nil {
			return nil, err
		}
		hits, _ := strconv.Atoi(resp.Header.Get("CMR-Hits"))
		next := resp.Header.Get("CMR-Search-After")
		body, err := orders.ReadResponse("cmr", resp)
		if err != nil {
			return nil, err
		}

		var f feed[granuleEntry]
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, fmt.Errorf("malformed granule response: %w", err)
		}
		result.Hits = hits
		for _, e := range f.Feed.Entry {
			size, _ := strconv.ParseFloat(e.GranuleSize, 64)
			result.TotalSizeMB += size
			result.Granules = append(result.Granules, Granule{
				ID: e.ID, Title: e.Title, ProducerID: e.ProducerID,
				TimeStart: e.TimeStart, TimeEnd: e.TimeEnd, SizeMB: size,
				CollectionID: e.CollectionID, Links: e.Links,
			})
		}

		if next == "" || len(f.Feed.Entry) == 0 || len(result.Granules) >= hits {
			break
		}
		searchAfter = next
	}

	c.logger.Debug("Granule search finished", logging.Fields{
		"short_name": criteria.ShortName, "hits": result.Hits, "total_mb": result.TotalSizeMB,
	})
	return result, nil
}

// Collection is a collection search entry
type Collection struct {
	ID           string   `json:"id"`
	ShortName    string   `json:"short_name"`
	Version      string   `json:"version_id"`
	Title        string   `json:"title"`
	Provider     string   `json:"data_center,omitempty"`
	Associations struct {
		Services []string `json:"services,omitempty"`
	} `json:"associations"`
}

// Collections lists the collections with the given short name and version
func (c *Client) Collections(ctx context.Context, shortName, version, provider string) ([]Collection, error) {
	q := url.Values{}
	q.Set("short_name", shortName)
	if version != "" {
		q.Set("version", version)
	}
	if provider != "" {
		q.Set("provider", provider)
	}
	q.Set("page_size", strconv.Itoa(pageSize))

	body, err := c.get(ctx, "/search/collections.json?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var f feed[Collection]
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("malformed collection response: %w", err)
	}
	return f.Feed.Entry, nil
}

// CollectionID resolves the concept id of a collection, which Harmony uses
// to address it
func (c *Client) CollectionID(ctx context.Context, shortName, version, provider string) (string, error) {
	cols, err := c.Collections(ctx, shortName, version, provider)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("collection %s %s: %w", shortName, version, ErrNotFound)
	}
	return cols[0].ID, nil
}

// Service is a subsetting service associated with a collection
type Service struct {
	ConceptID   string          `json:"concept_id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	URL         string          `json:"url,omitempty"`
	Description string          `json:"description,omitempty"`
	Options     json.RawMessage `json:"service_options,omitempty"`
}

type serviceItems struct {
	Items []struct {
		Meta struct {
			ConceptID string `json:"concept-id"`
		} `json:"meta"`
		UMM struct {
			Name        string `json:"Name"`
			LongName    string `json:"LongName"`
			Type        string `json:"Type"`
			Description string `json:"Description"`
			URL         struct {
				URLValue string `json:"URLValue"`
			} `json:"URL"`
			ServiceOptions json.RawMessage `json:"ServiceOptions"`
		} `json:"umm"`
	} `json:"items"`
}

// SearchServices lists the services associated with a collection
func (c *Client) SearchServices(ctx context.Context, shortName, version, provider string) ([]Service, error) {
	cols, err := c.Collections(ctx, shortName, version, provider)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("collection %s %s: %w", shortName, version, ErrNotFound)
	}

	var services []Service
	for _, id := range cols[0].Associations.Services {
		body, err := c.get(ctx, "/search/services.umm_json?concept_id="+url.QueryEscape(id))
		if err != nil {
			return nil, err
		}
		var items serviceItems
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("malformed service response for %s: %w", id, err)
		}
		for _, it := range items.Items {
			svc := Service{
				ConceptID:   it.Meta.ConceptID,
				Name:        it.UMM.Name,
				Type:        it.UMM.Type,
				URL:         it.UMM.URL.URLValue,
				Description: it.UMM.Description,
				Options:     it.UMM.ServiceOptions,
			}
			if svc.ConceptID == "" {
				svc.ConceptID = id
			}
			services = append(services, svc)
		}
	}
	return services, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, searchAfter string) (*http.Response, error) {
	target := c.baseURL + path + "?page_size=" + strconv.Itoa(pageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if searchAfter != "" {
		req.Header.Set("CMR-Search-After", searchAfter)
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cmr request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cmr request failed: %w", err)
	}
	return orders.ReadResponse("cmr", resp)
}
