package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"backend-fieldtrack/internal/geofence"
)

// Client talks to the external address/geofence resolution service. Lookups
// never block tracking: fence fetch happens once per session start and
// address resolution degrades to raw coordinates.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 5 * time.Second},
		log:  log.With().Str("component", "geocode").Logger(),
	}
}

// Fences returns the company's configured geofences: the office fence plus
// any per-dealer fences.
func (c *Client) Fences(ctx context.Context, companyID string) ([]geofence.Fence, error) {
	endpoint := fmt.Sprintf("%s/companies/%s/geofences", c.base, url.PathEscape(companyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch geofences: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch geofences: status %d", resp.StatusCode)
	}

	var fences []geofence.Fence
	if err := json.NewDecoder(resp.Body).Decode(&fences); err != nil {
		return nil, fmt.Errorf("decode geofences: %w", err)
	}
	return fences, nil
}

// ReverseAddress resolves a coordinate to a display address, falling back to
// the formatted coordinate on any failure.
func (c *Client) ReverseAddress(ctx context.Context, lat, lng float64) string {
	endpoint := fmt.Sprintf("%s/reverse?lat=%f&lng=%f", c.base, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FormatCoordinates(lat, lng)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("reverse geocode failed, using coordinates")
		return FormatCoordinates(lat, lng)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return FormatCoordinates(lat, lng)
	}

	var out struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Address == "" {
		return FormatCoordinates(lat, lng)
	}
	return out.Address
}

func FormatCoordinates(lat, lng float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lng)
}
