package tools

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/soyeahso/koko/internal/agent"
	"github.com/soyeahso/koko/internal/logging"
)

const routesFieldMask = "routes.duration,routes.distanceMeters,routes.legs.steps.navigationInstruction"

var travelModes = map[string]bool{
	"DRIVE":       true,
	"WALK":        true,
	"TRANSIT":     true,
	"TWO_WHEELER": true,
	"BICYCLE":     true,
}

var travelModeAliases = strings.NewReplacer(
	"WALKING", "WALK",
	"PUBLIC_TRANSPORT", "TRANSIT",
	"BUS", "TRANSIT",
)

// TravelMode normalises a travel mode, defaulting to DRIVE.
func TravelMode(mode string) string {
	m := travelModeAliases.Replace(strings.ToUpper(strings.TrimSpace(mode)))
	if travelModes[m] {
		return m
	}
	return "DRIVE"
}

// FormatDuration renders seconds for people, e.g. "1 hour 5 min".
func FormatDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%d seconds", seconds)
	}
	mins := seconds / 60
	if mins < 60 {
		return fmt.Sprintf("%d minute%s", mins, plural(mins))
	}
	hours, rem := mins/60, mins%60
	if rem > 0 {
		return fmt.Sprintf("%d hour%s %d min", hours, plural(hours), rem)
	}
	return fmt.Sprintf("%d hour%s", hours, plural(hours))
}

// FormatDistance renders metres as "850 m" or "2.3 km".
func FormatDistance(metres int) string {
	if metres >= 1000 {
		return fmt.Sprintf("%.1f km", float64(metres)/1000)
	}
	return fmt.Sprintf("%d m", metres)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

type directionsInput struct {
	StartLocation string `json:"start_location" jsonschema:"required,description=Starting address or place name"`
	EndLocation   string `json:"end_location" jsonschema:"required,description=Destination address or place name"`
	TravelMode    string `json:"travel_mode,omitempty" jsonschema:"enum=DRIVE,enum=WALK,enum=TRANSIT,enum=TWO_WHEELER,enum=BICYCLE,default=DRIVE"`
}

// Route is the get_directions output.
type Route struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	TravelMode      string `json:"travel_mode"`
	DistanceMetres  int    `json:"distance_metres"`
	DistanceText    string `json:"distance_text"`
	DurationSeconds int    `json:"duration_seconds"`
	DurationText    string `json:"duration_text"`
	Summary         string `json:"summary"`
}

// Directions computes a route with the Google Routes API.
type Directions struct {
	opts Options
	log  *logging.Logger
}

// NewDirections creates the get_directions tool.
func NewDirections(opts Options, log *logging.Logger) *Directions {
	return &Directions{opts: opts.withDefaults(), log: log.Sub("tools.routes")}
}

var _ agent.Tool = (*Directions)(nil)

func (d *Directions) Name() string { return "get_directions" }

func (d *Directions) Description() string {
	return "Get distance and travel time between two locations using Google Routes. " +
		"Supports driving, walking, cycling and public transport (use TRANSIT for bus or train)."
}

func (d *Directions) InputSchema() string { return agent.SchemaFor(&directionsInput{}) }

func (d *Directions) Execute(ctx context.Context, input string) (string, error) {
	if d.opts.GoogleAPIKey == "" {
		return errorResult("GOOGLE_API_KEY not configured"), nil
	}
	var in directionsInput
	if err := decodeInput(input, &in); err != nil {
		return errorResult("%v", err), nil
	}
	start, end := cleanLocation(in.StartLocation), cleanLocation(in.EndLocation)
	if start == "" || end == "" {
		return errorResult("start_location and end_location are required"), nil
	}
	mode := TravelMode(in.TravelMode)

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	d.log.Info().Str("start", start).Str("end", end).Str("mode", mode).Msg("computing route")

	payload := map[string]any{
		"origin":      map[string]string{"address": start},
		"destination": map[string]string{"address": end},
		"travelMode":  mode,
	}
	// Only driving accepts a routing preference.
	if mode == "DRIVE" {
		payload["routingPreference"] = "TRAFFIC_AWARE"
	}
	req, err := newJSONRequest(ctx, http.MethodPost, d.opts.RoutesURL, payload)
	if err != nil {
		return errorResult("%v", err), nil
	}
	req.Header.Set("X-Goog-Api-Key", d.opts.GoogleAPIKey)
	req.Header.Set("X-Goog-FieldMask", routesFieldMask)

	body, err := doGoogle(d.opts.HTTPClient, req)
	if err != nil {
		d.log.Error().Err(err).Msg("routes lookup failed")
		if code := googleStatus(err); code != 0 {
			return errorResult("Google Routes API returned %d", code), nil
		}
		return errorResult("%v", err), nil
	}

	route := gjson.GetBytes(body, "routes.0")
	if !route.Exists() {
		return jsonResult(map[string]string{
			"error": "No route found",
			"start": start,
			"end":   end,
			"mode":  mode,
		})
	}

	metres := int(route.Get("distanceMeters").Int())
	secs := parseDurationSeconds(route.Get("duration").String())
	res := Route{
		Start:           start,
		End:             end,
		TravelMode:      mode,
		DistanceMetres:  metres,
		DistanceText:    FormatDistance(metres),
		DurationSeconds: secs,
		DurationText:    FormatDuration(secs),
	}
	res.Summary = fmt.Sprintf("Route from %s to %s by %s: ~%s, ~%s.",
		start, end, strings.ToLower(mode), res.DistanceText, res.DurationText)

	d.log.Info().Str("distance", res.DistanceText).Str("duration", res.DurationText).Msg("route computed")
	return jsonResult(res)
}

// parseDurationSeconds reads a protobuf duration such as "542s".
func parseDurationSeconds(s string) int {
	n, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil || !strings.HasSuffix(s, "s") {
		return 0
	}
	return int(n)
}
