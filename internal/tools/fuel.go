package tools

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/soyeahso/koko/internal/agent"
	"github.com/soyeahso/koko/internal/logging"
)

// fuelTypeCodes maps user-facing fuel names to FuelCheck codes.
var fuelTypeCodes = map[string]string{
	"unleaded": "U91",
	"u91":      "U91",
	"e10":      "E10",
	"premium":  "P95",
	"p95":      "P95",
	"p98":      "P98",
	"diesel":   "DL",
	"dl":       "DL",
	"pdl":      "PDL",
	"lpg":      "LPG",
}

// FuelTypeCode normalises a fuel name, defaulting to U91.
func FuelTypeCode(fuelType string) string {
	if code, ok := fuelTypeCodes[strings.ToLower(strings.TrimSpace(fuelType))]; ok {
		return code
	}
	return "U91"
}

const maxFuelStations = 10

// fuelCheckTimestamp is the requesttimestamp layout FuelCheck expects.
const fuelCheckTimestamp = "02/01/2006 03:04:05 PM"

type fuelInput struct {
	Location string `json:"location" jsonschema:"required,description=Suburb or city or address to search near"`
	FuelType string `json:"fuel_type,omitempty" jsonschema:"enum=unleaded,enum=e10,enum=premium,enum=p98,enum=diesel,enum=lpg,default=unleaded"`
}

// FuelStation is one priced station in a lookup result.
type FuelStation struct {
	Name                 string  `json:"name"`
	Brand                string  `json:"brand"`
	Address              string  `json:"address"`
	PriceCentsPerLitre   float64 `json:"price_cents_per_litre"`
	PriceDollarsPerLitre float64 `json:"price_dollars_per_litre"`
	DistanceKm           float64 `json:"distance_km"`
	Latitude             float64 `json:"latitude"`
	Longitude            float64 `json:"longitude"`
	LastUpdated          string  `json:"last_updated"`
}

// FuelResult is the lookup_fuel_prices output.
type FuelResult struct {
	FuelType       string        `json:"fuel_type"`
	SearchLocation string        `json:"search_location"`
	Stations       []FuelStation `json:"stations"`
	Summary        string        `json:"summary"`
}

// FuelPrices looks up nearby fuel prices with the NSW FuelCheck API.
type FuelPrices struct {
	opts   Options
	tokens oauth2.TokenSource
	log    *logging.Logger
}

// NewFuelPrices creates the lookup_fuel_prices tool.
func NewFuelPrices(opts Options, log *logging.Logger) *FuelPrices {
	opts = opts.withDefaults()
	src := &fuelTokenSource{
		client:    opts.HTTPClient,
		url:       opts.NSWFuelURL + "/oauth/client_credential/accesstoken",
		authBasic: opts.NSWFuelAuthBasic,
		timeout:   opts.Timeout,
	}
	return &FuelPrices{
		opts:   opts,
		tokens: oauth2.ReuseTokenSource(nil, src),
		log:    log.Sub("tools.fuel"),
	}
}

var _ agent.Tool = (*FuelPrices)(nil)

func (f *FuelPrices) Name() string { return "lookup_fuel_prices" }

func (f *FuelPrices) Description() string {
	return "Look up current fuel prices near a location using the NSW FuelCheck API. " +
		"Use this when the user asks about petrol or fuel prices. " +
		"Returns up to 10 stations sorted cheapest first with price in cents per litre and distance in km."
}

func (f *FuelPrices) InputSchema() string { return agent.SchemaFor(&fuelInput{}) }

func (f *FuelPrices) Execute(ctx context.Context, input string) (string, error) {
	var in fuelInput
	if err := decodeInput(input, &in); err != nil {
		return errorResult("%v", err), nil
	}
	location := cleanLocation(in.Location)
	if location == "" {
		return errorResult("location is required"), nil
	}
	code := FuelTypeCode(in.FuelType)

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	f.log.Info().Str("fuelType", code).Str("location", location).Msg("looking up fuel prices")

	coords, err := geocode(ctx, f.opts, location)
	if err != nil {
		f.log.Warn().Err(err).Msg("geocode failed")
		return errorResult("Could not geocode location: %s", location), nil
	}

	tok, err := f.tokens.Token()
	if err != nil {
		f.log.Error().Err(err).Msg("NSW Fuel auth failed")
		return errorResult("Failed to authenticate with NSW Fuel API"), nil
	}

	body, status, err := f.nearby(ctx, tok, code, coords)
	if err != nil {
		f.log.Error().Err(err).Msg("fuel lookup failed")
		return errorResult("%v", err), nil
	}
	if status != http.StatusOK {
		f.log.Error().Int("status", status).Str("body", truncate(string(body), maxErrorBody)).Msg("NSW Fuel API error")
		return errorResult("NSW Fuel API returned %d", status), nil
	}

	res := FuelResult{
		FuelType:       code,
		SearchLocation: location,
		Stations:       parseFuelStations(body),
	}
	if len(res.Stations) > 0 {
		c := res.Stations[0]
		res.Summary = fmt.Sprintf("Cheapest %s near %s: %s at %v c/L (%v km away, %s). Last updated %s.",
			code, location, c.Name, c.PriceCentsPerLitre, c.DistanceKm, c.Address, c.LastUpdated)
	}
	f.log.Info().Int("stations", len(res.Stations)).Str("fuelType", code).Msg("fuel lookup done")
	return jsonResult(res)
}

func (f *FuelPrices) nearby(ctx context.Context, tok *oauth2.Token, code string, at latLng) ([]byte, int, error) {
	payload := map[string]string{
		"fueltype":      code,
		"latitude":      strconv.FormatFloat(at.Lat, 'f', -1, 64),
		"longitude":     strconv.FormatFloat(at.Lng, 'f', -1, 64),
		"radius":        strconv.Itoa(f.opts.FuelRadiusKm),
		"sortby":        "price",
		"sortascending": "true",
	}
	req, err := newJSONRequest(ctx, http.MethodPost, f.opts.NSWFuelURL+"/FuelPriceCheck/v2/fuel/prices/nearby", payload)
	if err != nil {
		return nil, 0, err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("apikey", f.opts.NSWFuelAPIKey)
	req.Header.Set("transactionid", uuid.NewString())
	req.Header.Set("requesttimestamp", f.opts.Now().Format(fuelCheckTimestamp))

	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

// parseFuelStations joins prices to stations, keeping FuelCheck's order.
func parseFuelStations(body []byte) []FuelStation {
	stations := make(map[string]gjson.Result)
	gjson.GetBytes(body, "stations").ForEach(func(_, s gjson.Result) bool {
		stations[s.Get("code").String()] = s
		return true
	})

	out := []FuelStation{}
	gjson.GetBytes(body, "prices").ForEach(func(_, p gjson.Result) bool {
		if len(out) == maxFuelStations {
			return false
		}
		stn := stations[p.Get("stationcode").String()]
		name := stn.Get("name").String()
		if name == "" {
			name = "Unknown"
		}
		cents := p.Get("price").Float()
		out = append(out, FuelStation{
			Name:                 name,
			Brand:                stn.Get("brand").String(),
			Address:              stn.Get("address").String(),
			PriceCentsPerLitre:   cents,
			PriceDollarsPerLitre: math.Round(cents*10) / 1000,
			DistanceKm:           stn.Get("location.distance").Float(),
			Latitude:             stn.Get("location.latitude").Float(),
			Longitude:            stn.Get("location.longitude").Float(),
			LastUpdated:          p.Get("lastupdated").String(),
		})
		return true
	})
	return out
}

// fuelTokenSource fetches FuelCheck client-credential tokens. The endpoint
// takes a GET with a pre-encoded basic auth header, which the stock
// clientcredentials flow cannot express.
type fuelTokenSource struct {
	client    *http.Client
	url       string
	authBasic string
	timeout   time.Duration
}

func (s *fuelTokenSource) Token() (*oauth2.Token, error) {
	if s.authBasic == "" {
		return nil, fmt.Errorf("NSW_FUEL_AUTH_BASIC not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"?grant_type=client_credentials", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.authBasic)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching fuel token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fuel token endpoint returned %d", resp.StatusCode)
	}

	access := gjson.GetBytes(body, "access_token").String()
	if access == "" {
		return nil, fmt.Errorf("fuel token response has no access_token")
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if secs := gjson.GetBytes(body, "expires_in").Int(); secs > 0 {
		tok.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return tok, nil
}
