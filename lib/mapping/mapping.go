// Package mapping geocodes a free-text address into a latitude/longitude
// pair, used by the Discord bot to resolve a user-supplied alert location.
package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

const defaultGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Client geocodes addresses against an HTTP geocoding API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient builds a Client against baseURL, authenticating with apiKey.
func NewClient(httpClient *http.Client, baseURL, apiKey string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultGeocodeURL
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// FindCoordinates resolves addr to a latitude/longitude pair using the
// first result returned by the geocoding API.
func (c *Client) FindCoordinates(ctx context.Context, addr string) (lat, lon float64, err error) {
	reqURL := fmt.Sprintf("%s?address=%s&key=%s", c.baseURL, url.QueryEscape(addr), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("mapping: building geocode request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("mapping: geocode request for %q failed: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("mapping: geocode request for %q returned status %d", addr, resp.StatusCode)
	}

	var out geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("mapping: decoding geocode response for %q: %w", addr, err)
	}
	if out.Status != "OK" || len(out.Results) == 0 {
		return 0, 0, fmt.Errorf("mapping: no geocode results for %q (status %s)", addr, out.Status)
	}

	loc := out.Results[0].Geometry.Location
	return loc.Lat, loc.Lng, nil
}

var (
	defaultClientOnce sync.Once
	defaultClient     *Client
)

// defaultClientFromEnv builds the package-level client from
// MAPPING_GEOCODE_URL / MAPPING_GEOCODE_API_KEY, matching how the rest of
// this module wires external services from the environment rather than
// flags.
func defaultClientFromEnv() *Client {
	return NewClient(nil, os.Getenv("MAPPING_GEOCODE_URL"), os.Getenv("MAPPING_GEOCODE_API_KEY"))
}

// FindCoordinates geocodes addr using a lazily-initialized package-level
// client configured from the environment.
func FindCoordinates(addr string) (float64, float64, error) {
	defaultClientOnce.Do(func() { defaultClient = defaultClientFromEnv() })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return defaultClient.FindCoordinates(ctx, addr)
}
