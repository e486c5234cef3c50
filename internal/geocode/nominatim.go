package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/models"
)

const (
	// DefaultNominatimURL is the public OpenStreetMap search endpoint.
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

	// DefaultUserAgent identifies this client; the public instance rejects
	// requests that do not carry a descriptive User-Agent.
	DefaultUserAgent = "MemberMap/1.0"

	maxResponseBytes = 1 << 20
)

// nominatimResult is one element of the search response array.
// lat and lon are returned as strings.
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Option configures a Nominatim client.
type Option func(*Nominatim)

// WithBaseURL points the client at another search endpoint.
func WithBaseURL(u string) Option {
	return func(n *Nominatim) {
		n.baseURL = u
	}
}

// WithUserAgent sets the identifying User-Agent header.
func WithUserAgent(ua string) Option {
	return func(n *Nominatim) {
		if ua != "" {
			n.userAgent = ua
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *Nominatim) {
		n.httpClient = hc
	}
}

// WithLogger sets the logger used to report lookup failures.
func WithLogger(l *logger.Logger) Option {
	return func(n *Nominatim) {
		n.logger = l
	}
}

// Nominatim geocodes addresses against a Nominatim search endpoint.
// It never retries; a transient failure looks like a no-match.
type Nominatim struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *logger.Logger
}

var _ Provider = (*Nominatim)(nil)

// NewNominatim creates a client with the given options.
func NewNominatim(opts ...Option) *Nominatim {
	n := &Nominatim{
		baseURL:    DefaultNominatimURL,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logger.Nop()
	}
	n.logger = n.logger.WithComponent("Nominatim")
	return n
}

// Geocode returns the best match for address, or nil when the request
// fails, the response is malformed or nothing matched.
func (n *Nominatim) Geocode(ctx context.Context, address string) *models.Coordinates {
	coords, err := n.search(ctx, address)
	if err != nil {
		n.logger.Warn().Err(err).Str("address", address).Msg("Geocoding failed")
		return nil
	}
	if coords == nil {
		n.logger.Debug().Str("address", address).Msg("No geocoding match")
	}
	return coords
}

func (n *Nominatim) search(ctx context.Context, address string) (*models.Coordinates, error) {
	params := url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim read body")
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: nominatim bad lat %q", results[0].Lat)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: nominatim bad lon %q", results[0].Lon)
	}

	coords := &models.Coordinates{Latitude: lat, Longitude: lon}
	if !coords.Valid() {
		return nil, eris.Errorf("geocode: nominatim coordinates out of range (%v, %v)", lat, lon)
	}
	return coords, nil
}
