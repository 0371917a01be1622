// Package query turns typed search criteria into provider-specific order
// requests. It performs no I/O.
package query

import (
	"net/url"
	"strings"

	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/orders"
)

// Encoder serializes validated criteria into a service's key/value encoding
type Encoder interface {
	Service() string
	Encode(criteria models.SearchCriteria, opts models.OrderOptions) (url.Values, error)
}

// Build validates criteria and encodes them with enc. Blank values are
// dropped so optional fields are omitted rather than sent empty.
func Build(criteria models.SearchCriteria, opts models.OrderOptions, enc Encoder) (*models.OrderRequest, error) {
	if err := criteria.Validate(); err != nil {
		return nil, orders.NewInvalidCriteria(err)
	}

	params, err := enc.Encode(criteria, opts)
	if err != nil {
		return nil, orders.NewInvalidCriteria(err)
	}

	return &models.OrderRequest{
		Service:  enc.Service(),
		Criteria: criteria,
		Options:  cloneOptions(opts),
		Params:   Compact(params),
	}, nil
}

// Compact returns a copy of v without blank keys or values
func Compact(v url.Values) url.Values {
	out := url.Values{}
	for key, values := range v {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, value := range values {
			if strings.TrimSpace(value) != "" {
				out.Add(key, value)
			}
		}
	}
	return out
}

func cloneOptions(o models.OrderOptions) models.OrderOptions {
	c := o
	c.Variables = append([]string(nil), o.Variables...)
	if o.Extra != nil {
		c.Extra = make(map[string]string, len(o.Extra))
		for k, v := range o.Extra {
			c.Extra[k] = v
		}
	}
	return c
}
