package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/soyeahso/koko/internal/agent"
	"github.com/soyeahso/koko/internal/logging"
)

// callWebhook posts {"message": message} to an n8n agent webhook. n8n may
// answer with an object, a bare JSON string or plain text; the latter two
// are wrapped as {"output": ...}.
func callWebhook(ctx context.Context, client *http.Client, url, message string, log *logging.Logger) (string, error) {
	req, err := newJSONRequest(ctx, http.MethodPost, url, map[string]string{"message": message})
	if err != nil {
		return "", err
	}

	log.Info().Str("url", url).Msg("calling n8n webhook")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("n8n webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading n8n response: %w", err)
	}
	log.Debug().Int("status", resp.StatusCode).Str("body", truncate(string(body), 500)).Msg("n8n webhook response")

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("n8n webhook returned status %d: %s", resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	text := strings.TrimSpace(string(body))
	if gjson.Valid(text) {
		parsed := gjson.Parse(text)
		if parsed.IsObject() || parsed.IsArray() {
			return text, nil
		}
		if parsed.Type == gjson.String {
			text = parsed.String()
		}
	}
	return jsonResult(map[string]string{"output": text})
}

type colesInput struct {
	Location string   `json:"location" jsonschema:"required,description=Suburb or address to search near"`
	Items    []string `json:"items" jsonschema:"required,description=Grocery item names to price"`
}

// ColesPrices asks the n8n Coles agent for current grocery prices.
type ColesPrices struct {
	opts Options
	log  *logging.Logger
}

// NewColesPrices creates the lookup_coles_prices tool.
func NewColesPrices(opts Options, log *logging.Logger) *ColesPrices {
	return &ColesPrices{opts: opts.withDefaults(), log: log.Sub("tools.coles")}
}

var _ agent.Tool = (*ColesPrices)(nil)

func (c *ColesPrices) Name() string { return "lookup_coles_prices" }

func (c *ColesPrices) Description() string {
	return "Look up current Coles grocery prices near a location. " +
		"Use this when the user asks about grocery prices or wants to compare prices for specific items. " +
		"Returns nearby Coles stores and prices for the requested items."
}

func (c *ColesPrices) InputSchema() string { return agent.SchemaFor(&colesInput{}) }

func (c *ColesPrices) Execute(ctx context.Context, input string) (string, error) {
	var in colesInput
	if err := decodeInput(input, &in); err != nil {
		return errorResult("%v", err), nil
	}
	location := cleanLocation(in.Location)
	if len(in.Items) == 0 {
		return errorResult("items is required"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.WebhookTimeout)
	defer cancel()

	c.log.Info().Int("items", len(in.Items)).Str("location", location).Msg("looking up Coles prices")
	message := fmt.Sprintf("Find prices for %s at Coles near %s", strings.Join(in.Items, ", "), location)
	out, err := callWebhook(ctx, c.opts.HTTPClient, c.opts.ColesWebhookURL, message, c.log)
	if err != nil {
		c.log.Error().Err(err).Msg("Coles lookup failed")
		return errorResult("%v", err), nil
	}
	return out, nil
}

type searchLocationInput struct {
	Query    string  `json:"query" jsonschema:"required,description=Address or place name or landmark"`
	RadiusKm float64 `json:"radius_km,omitempty" jsonschema:"default=5,description=Search radius in kilometres"`
}

// SearchLocation resolves places through the n8n Google Maps agent.
type SearchLocation struct {
	opts Options
	log  *logging.Logger
}

// NewSearchLocation creates the search_location tool.
func NewSearchLocation(opts Options, log *logging.Logger) *SearchLocation {
	return &SearchLocation{opts: opts.withDefaults(), log: log.Sub("tools.maps")}
}

var _ agent.Tool = (*SearchLocation)(nil)

func (s *SearchLocation) Name() string { return "search_location" }

func (s *SearchLocation) Description() string {
	return "Resolve an address or place name and find nearby points of interest using Google Maps. " +
		"Use this to turn a vague location into an address or to find places within a radius."
}

func (s *SearchLocation) InputSchema() string { return agent.SchemaFor(&searchLocationInput{}) }

func (s *SearchLocation) Execute(ctx context.Context, input string) (string, error) {
	var in searchLocationInput
	if err := decodeInput(input, &in); err != nil {
		return errorResult("%v", err), nil
	}
	query := cleanLocation(in.Query)
	if query == "" {
		return errorResult("query is required"), nil
	}
	if in.RadiusKm <= 0 {
		in.RadiusKm = 5
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.WebhookTimeout)
	defer cancel()

	radius := strconv.FormatFloat(in.RadiusKm, 'f', -1, 64)
	s.log.Info().Str("query", query).Str("radiusKm", radius).Msg("searching location")
	out, err := callWebhook(ctx, s.opts.HTTPClient, s.opts.MapsWebhookURL,
		fmt.Sprintf("Search for %s within %skm radius", query, radius), s.log)
	if err != nil {
		s.log.Error().Err(err).Msg("location search failed")
		return errorResult("%v", err), nil
	}
	return out, nil
}
