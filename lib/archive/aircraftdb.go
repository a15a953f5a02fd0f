package archive

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// AircraftDBClient fetches the gzipped semicolon-CSV aircraft register and
// the JSON aircraft-type table from a (possibly bearer-token-gated) mirror.
// This is a minimal fetch-and-store stub, not a full importer: schema,
// diffing and scheduling are out of scope.
type AircraftDBClient struct {
	http *http.Client
	base string
}

// NewAircraftDBClient builds a client against base. If token is non-empty
// it is sent as a static OAuth2 bearer token on every request, via
// oauth2's StaticTokenSource/NewClient wrapper rather than a hand-rolled
// Authorization header.
func NewAircraftDBClient(base, token string) *AircraftDBClient {
	httpClient := http.DefaultClient
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	return &AircraftDBClient{http: httpClient, base: base}
}

// AircraftRecord is one row of the semicolon-CSV register.
type AircraftRecord struct {
	ICAO         string
	Registration string
	TypeCode     string
}

// FetchRegister downloads and parses the gzipped semicolon-CSV register.
func (c *AircraftDBClient) FetchRegister(ctx context.Context, path string) ([]AircraftRecord, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("archive: aircraftdb gunzip: %w", err)
	}
	defer gz.Close()

	r := csv.NewReader(gz)
	r.Comma = ';'
	r.FieldsPerRecord = -1

	var records []AircraftRecord
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: aircraftdb csv: %w", err)
		}
		if len(row) < 3 {
			continue
		}
		records = append(records, AircraftRecord{ICAO: row[0], Registration: row[1], TypeCode: row[2]})
	}
	return records, nil
}

// AircraftType is one entry of the JSON type table.
type AircraftType struct {
	TypeCode    string `json:"type_code"`
	Description string `json:"description"`
	WTC         string `json:"wtc"`
}

// FetchTypes downloads and parses the JSON type table.
func (c *AircraftDBClient) FetchTypes(ctx context.Context, path string) ([]AircraftType, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var types []AircraftType
	if err := json.NewDecoder(body).Decode(&types); err != nil {
		return nil, fmt.Errorf("archive: aircraftdb json: %w", err)
	}
	return types, nil
}

func (c *AircraftDBClient) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: aircraftdb request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive: aircraftdb fetch %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("archive: aircraftdb fetch %s: status %d", path, resp.StatusCode)
	}
	return resp.Body, nil
}
