// Package tools implements the capabilities the assistant can call during a
// turn: shopping-list edits plus fuel, grocery and maps lookups.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/koko/internal/agent"
	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/logging"
)

// Default endpoints. Tests point Options at httptest servers instead.
const (
	DefaultGeocodeURL      = "https://maps.googleapis.com/maps/api/geocode/json"
	DefaultPlacesURL       = "https://places.googleapis.com/v1/places:searchText"
	DefaultRoutesURL       = "https://routes.googleapis.com/directions/v2:computeRoutes"
	DefaultNSWFuelURL      = "https://api.onegov.nsw.gov.au"
	DefaultColesWebhookURL = "http://localhost:5678/webhook/coles"
	DefaultMapsWebhookURL  = "http://localhost:5678/webhook/maps"
)

// maxErrorBody bounds how much of a failed response is logged.
const maxErrorBody = 300

// Options configures the outbound tool adapters.
type Options struct {
	HTTPClient     *http.Client
	Timeout        time.Duration
	WebhookTimeout time.Duration

	GoogleAPIKey string
	GeocodeURL   string
	PlacesURL    string
	RoutesURL    string

	NSWFuelAPIKey    string
	NSWFuelAuthBasic string
	NSWFuelURL       string
	FuelRadiusKm     int

	ColesWebhookURL string
	MapsWebhookURL  string

	// Now defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps the tools config section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:          cfg.ToolTimeout(),
		WebhookTimeout:   cfg.WebhookTimeout(),
		GoogleAPIKey:     cfg.Tools.GoogleAPIKey,
		NSWFuelAPIKey:    cfg.Tools.NSWFuel.APIKey,
		NSWFuelAuthBasic: cfg.Tools.NSWFuel.AuthBasic,
		NSWFuelURL:       cfg.Tools.NSWFuel.BaseURL,
		FuelRadiusKm:     cfg.Tools.NSWFuel.RadiusKm,
		ColesWebhookURL:  cfg.Tools.N8N.ColesWebhookURL,
		MapsWebhookURL:   cfg.Tools.N8N.MapsWebhookURL,
	}
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.WebhookTimeout <= 0 {
		o.WebhookTimeout = 120 * time.Second
	}
	if o.GeocodeURL == "" {
		o.GeocodeURL = DefaultGeocodeURL
	}
	if o.PlacesURL == "" {
		o.PlacesURL = DefaultPlacesURL
	}
	if o.RoutesURL == "" {
		o.RoutesURL = DefaultRoutesURL
	}
	if o.NSWFuelURL == "" {
		o.NSWFuelURL = DefaultNSWFuelURL
	}
	o.NSWFuelURL = strings.TrimRight(o.NSWFuelURL, "/")
	if o.FuelRadiusKm <= 0 {
		o.FuelRadiusKm = 5
	}
	if o.ColesWebhookURL == "" {
		o.ColesWebhookURL = DefaultColesWebhookURL
	}
	if o.MapsWebhookURL == "" {
		o.MapsWebhookURL = DefaultMapsWebhookURL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Lookups returns every outbound lookup tool.
func Lookups(opts Options, log *logging.Logger) []agent.Tool {
	opts = opts.withDefaults()
	return []agent.Tool{
		NewFuelPrices(opts, log),
		NewColesPrices(opts, log),
		NewSearchLocation(opts, log),
		NewNearbyStores(opts, log),
		NewDirections(opts, log),
	}
}

// homeAddressRe matches the address directive the orchestrator puts in the
// prompt, in case the model passes it through verbatim.
var homeAddressRe = regexp.MustCompile(`\[USER_HOME_ADDRESS=(.+?)\]`)

// cleanLocation unwraps a verbatim [USER_HOME_ADDRESS=...] tag.
func cleanLocation(loc string) string {
	if m := homeAddressRe.FindStringSubmatch(loc); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(loc)
}

// errorResult renders a soft failure the model can read and explain.
func errorResult(format string, args ...any) string {
	data, _ := json.Marshal(map[string]string{"error": fmt.Sprintf(format, args...)})
	return string(data)
}

func jsonResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding tool result: %w", err)
	}
	return string(data), nil
}

func decodeInput(input string, v any) error {
	if strings.TrimSpace(input) == "" {
		input = "{}"
	}
	if err := json.Unmarshal([]byte(input), v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

// newJSONRequest builds a request with an optional JSON body.
func newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
