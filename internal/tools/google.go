package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"google.golang.org/api/googleapi"
)

// doGoogle sends req and returns the body of a 2xx response. Other
// statuses come back as *googleapi.Error.
func doGoogle(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// googleStatus extracts the HTTP status from a googleapi error, or 0.
func googleStatus(err error) int {
	if gerr, ok := err.(*googleapi.Error); ok {
		return gerr.Code
	}
	return 0
}

type latLng struct {
	Lat float64
	Lng float64
}

// geocode resolves an address with the Google Geocoding API.
func geocode(ctx context.Context, opts Options, address string) (latLng, error) {
	if opts.GoogleAPIKey == "" {
		return latLng{}, fmt.Errorf("GOOGLE_API_KEY not configured")
	}
	q := url.Values{"address": {address}, "key": {opts.GoogleAPIKey}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.GeocodeURL+"?"+q.Encode(), nil)
	if err != nil {
		return latLng{}, err
	}
	body, err := doGoogle(opts.HTTPClient, req)
	if err != nil {
		return latLng{}, fmt.Errorf("geocoding %q: %w", address, err)
	}

	loc := gjson.GetBytes(body, "results.0.geometry.location")
	if !loc.Exists() {
		status := gjson.GetBytes(body, "status").String()
		return latLng{}, fmt.Errorf("geocoding %q: no results (%s)", address, status)
	}
	return latLng{Lat: loc.Get("lat").Float(), Lng: loc.Get("lng").Float()}, nil
}
