package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/soyeahso/koko/internal/agent"
	"github.com/soyeahso/koko/internal/logging"
)

const placesFieldMask = "places.displayName,places.formattedAddress,places.location"

type nearbyStoresInput struct {
	Location  string `json:"location" jsonschema:"required,description=The user's address or suburb"`
	StoreType string `json:"store_type,omitempty" jsonschema:"default=Coles,description=Store brand such as Coles or Woolworths"`
}

// Store is a place returned by find_nearby_stores.
type Store struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NearbyStores finds supermarkets with the Google Places text search.
type NearbyStores struct {
	opts Options
	log  *logging.Logger
}

// NewNearbyStores creates the find_nearby_stores tool.
func NewNearbyStores(opts Options, log *logging.Logger) *NearbyStores {
	return &NearbyStores{opts: opts.withDefaults(), log: log.Sub("tools.places")}
}

var _ agent.Tool = (*NearbyStores)(nil)

func (n *NearbyStores) Name() string { return "find_nearby_stores" }

func (n *NearbyStores) Description() string {
	return "Find nearby grocery stores (Coles, Woolworths, Aldi) using Google Places. " +
		"Returns store names, addresses and coordinates that can be passed to get_directions."
}

func (n *NearbyStores) InputSchema() string { return agent.SchemaFor(&nearbyStoresInput{}) }

func (n *NearbyStores) Execute(ctx context.Context, input string) (string, error) {
	if n.opts.GoogleAPIKey == "" {
		return errorResult("GOOGLE_API_KEY not configured"), nil
	}
	var in nearbyStoresInput
	if err := decodeInput(input, &in); err != nil {
		return errorResult("%v", err), nil
	}
	location := cleanLocation(in.Location)
	if location == "" {
		return errorResult("location is required"), nil
	}
	storeType := strings.TrimSpace(in.StoreType)
	if storeType == "" {
		storeType = "Coles"
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	query := fmt.Sprintf("%s supermarket near %s", storeType, location)
	n.log.Info().Str("query", query).Msg("places search")

	req, err := newJSONRequest(ctx, http.MethodPost, n.opts.PlacesURL, map[string]any{
		"textQuery":      query,
		"maxResultCount": 5,
	})
	if err != nil {
		return errorResult("%v", err), nil
	}
	req.Header.Set("X-Goog-Api-Key", n.opts.GoogleAPIKey)
	req.Header.Set("X-Goog-FieldMask", placesFieldMask)

	body, err := doGoogle(n.opts.HTTPClient, req)
	if err != nil {
		n.log.Error().Err(err).Msg("places lookup failed")
		if code := googleStatus(err); code != 0 {
			return errorResult("Google Places API returned %d", code), nil
		}
		return errorResult("%v", err), nil
	}

	stores := []Store{}
	gjson.GetBytes(body, "places").ForEach(func(_, p gjson.Result) bool {
		name := p.Get("displayName.text").String()
		if name == "" {
			name = "Unknown"
		}
		stores = append(stores, Store{
			Name:      name,
			Address:   p.Get("formattedAddress").String(),
			Latitude:  p.Get("location.latitude").Float(),
			Longitude: p.Get("location.longitude").Float(),
		})
		return true
	})
	n.log.Info().Int("stores", len(stores)).Str("storeType", storeType).Msg("places search done")
	return jsonResult(map[string]any{"nearby_stores": stores})
}
