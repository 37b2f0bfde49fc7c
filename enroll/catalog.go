/*
catalog.go - Read-only course price view

PURPOSE:
  The course catalog is an external collaborator. This core only needs
  one thing from it: the credit price of a course. A price of zero (or
  no price) means the course cannot be bought with credits.

IMPLEMENTATIONS:
  StaticCatalog: fixed map, loaded from config. Dev/test and small
                 deployments where prices ship with the service.
  HTTPCatalog:   queries the catalog service with a bounded timeout.

SEE ALSO:
  - coordinator.go: PurchaseCourse, the only caller
*/
package enroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrCourseNotFound is returned for an unknown course id.
	ErrCourseNotFound = errors.New("course not found")

	// ErrNotPurchasable is returned when a course has no positive
	// credit price.
	ErrNotPurchasable = errors.New("course not purchasable with credits")
)

// Catalog supplies credit prices for courses. Read-only.
type Catalog interface {
	// CreditPrice returns the course's price in credits.
	// ErrCourseNotFound for unknown courses; the returned price may be
	// zero, which the coordinator rejects as not purchasable.
	CreditPrice(ctx context.Context, courseID string) (int64, error)
}

// =============================================================================
// STATIC CATALOG
// =============================================================================

// StaticCatalog serves prices from a fixed map.
type StaticCatalog struct {
	prices map[string]int64
}

func NewStaticCatalog(prices map[string]int64) *StaticCatalog {
	cp := make(map[string]int64, len(prices))
	for id, p := range prices {
		cp[id] = p
	}
	return &StaticCatalog{prices: cp}
}

func (c *StaticCatalog) CreditPrice(_ context.Context, courseID string) (int64, error) {
	price, ok := c.prices[courseID]
	if !ok {
		return 0, fmt.Errorf("course %s: %w", courseID, ErrCourseNotFound)
	}
	return price, nil
}

// =============================================================================
// HTTP CATALOG
// =============================================================================

// HTTPCatalog queries an external catalog service:
// GET {base}/courses/{id} -> {"id": ..., "creditPrice": N}
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCatalog(baseURL string, timeout time.Duration) *HTTPCatalog {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCatalog{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPCatalog) CreditPrice(ctx context.Context, courseID string) (int64, error) {
	u := c.baseURL + "/courses/" + url.PathEscape(courseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("catalog call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("course %s: %w", courseID, ErrCourseNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("catalog status %d", resp.StatusCode)
	}

	var body struct {
		CreditPrice int64 `json:"creditPrice"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return 0, fmt.Errorf("decode catalog response: %w", err)
	}
	return body.CreditPrice, nil
}
