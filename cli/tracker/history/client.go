// Package history talks to the backend REST API: combined
// location+status history for a device, the paginated fleet list and
// the latest-state endpoint backing the polling fallback.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

// dateFormat is what the backend expects for range boundaries: a bare
// date, no time, no timezone.
const dateFormat = "2006-01-02"

// pageWindow bounds how many page requests run concurrently during a
// bulk fleet load. Unbounded fan-out would hammer the backend.
const pageWindow = 4

// Client is the REST client. All failures come back as error values
// with a readable message; callers decide whether to retry, use
// partial data or show an empty state.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given API base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Pagination is the paging block of the vehicle list response.
type Pagination struct {
	TotalPages  int `json:"total_pages"`
	TotalItems  int `json:"total_items"`
	CurrentPage int `json:"current_page"`
}

// VehiclesPage is one page of the fleet list.
type VehiclesPage struct {
	Vehicles   []types.VehicleRecord `json:"vehicles"`
	Pagination Pagination            `json:"pagination"`
}

type latestStateResponse struct {
	Status   *types.StatusEvent   `json:"status"`
	Location *types.LocationEvent `json:"location"`
}

// FetchHistory loads the combined history for one device over a date
// range. The response order is not trusted: samples are sorted by
// ObservedAt ascending before they are returned, which is what the
// segmentation engine requires.
func (c *Client) FetchHistory(ctx context.Context, id types.DeviceID, from, to time.Time) ([]types.HistorySample, error) {
	endpoint := fmt.Sprintf("%s/devices/%s/history?%s", c.baseURL, url.PathEscape(string(id)),
		url.Values{
			"from": {from.Format(dateFormat)},
			"to":   {to.Format(dateFormat)},
		}.Encode())

	var samples []types.HistorySample
	if err := c.getJSON(ctx, endpoint, &samples); err != nil {
		return nil, fmt.Errorf("history fetch for %s failed: %w", id, err)
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].ObservedAt.Before(samples[j].ObservedAt)
	})
	return samples, nil
}

// FetchVehiclesPage loads one page of the fleet list.
func (c *Client) FetchVehiclesPage(ctx context.Context, page int) (VehiclesPage, error) {
	endpoint := fmt.Sprintf("%s/vehicles?page=%d", c.baseURL, page)

	var out VehiclesPage
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return VehiclesPage{}, fmt.Errorf("vehicle page %d fetch failed: %w", page, err)
	}
	return out, nil
}

// FetchFleet loads the whole fleet. The first page is delivered to
// onPage before anything else so the caller can render immediately;
// the remaining pages are fetched through a bounded concurrent window
// and delivered as they arrive. A failed later page is logged and
// skipped rather than failing the whole load.
func (c *Client) FetchFleet(ctx context.Context, onPage func(page int, vehicles []types.VehicleRecord)) error {
	first, err := c.FetchVehiclesPage(ctx, 1)
	if err != nil {
		return err
	}
	onPage(1, first.Vehicles)

	totalPages := first.Pagination.TotalPages
	if totalPages <= 1 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageWindow)

	for page := 2; page <= totalPages; page++ {
		page := page
		g.Go(func() error {
			p, err := c.FetchVehiclesPage(gctx, page)
			if err != nil {
				// Partial fleet beats no fleet: the first page already
				// rendered, so a lost later page only loses its slice.
				log.WithFields(log.Fields{"err": err, "page": page}).Warn("skipping failed fleet page")
				return nil
			}
			mu.Lock()
			onPage(page, p.Vehicles)
			mu.Unlock()
			return nil
		})
	}

	return g.Wait()
}

// LatestState implements the polling fallback: the latest status and
// location snapshots for one device, shaped as the same events the
// socket would deliver.
func (c *Client) LatestState(ctx context.Context, id types.DeviceID) (*types.StatusEvent, *types.LocationEvent, error) {
	endpoint := fmt.Sprintf("%s/devices/%s/latest", c.baseURL, url.PathEscape(string(id)))

	var out latestStateResponse
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, nil, fmt.Errorf("latest state fetch for %s failed: %w", id, err)
	}
	return out.Status, out.Location, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(into)
}
