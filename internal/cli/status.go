package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/gateway"
	"github.com/soyeahso/koko/internal/version"
)

func newStatusCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configuration summary and probe a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Koko %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			auth := "none"
			if cfg.Gateway.Auth.Token != "" {
				auth = "token"
			}
			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind, auth)
			fmt.Fprintf(out, "Session: idle=%s max=%d sweep=%q\n", cfg.SessionTTL(), cfg.Session.MaxSessions, cfg.Session.SweepSchedule)
			storeDesc := cfg.Store.Driver
			if cfg.Store.Driver == "redis" {
				storeDesc += " " + cfg.Store.Redis.Address
			}
			fmt.Fprintf(out, "Store:   %s retention=%dd prune=%q\n", storeDesc, cfg.Store.RetentionDays, cfg.Store.PruneSchedule)

			model := cfg.LLM.Model
			if model == "" {
				model = "(default)"
			}
			fmt.Fprintf(out, "LLM:     provider=%s model=%s\n", cfg.LLM.Provider, model)

			if irc := cfg.Channels.IRC; irc != nil {
				fmt.Fprintf(out, "IRC:     server=%s nick=%s channels=%s tls=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
			} else {
				fmt.Fprintln(out, "IRC:     (not configured)")
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			if url == "" {
				url = fmt.Sprintf("http://127.0.0.1:%d", cfg.Gateway.Port)
			}
			fmt.Fprintln(out)
			health, err := probeHealth(cmd.Context(), url, cfg.Gateway.Auth.Token)
			if err != nil {
				fmt.Fprintf(out, "Gateway: not reachable at %s (%v)\n", url, err)
				return nil
			}
			fmt.Fprintf(out, "Gateway: %s at %s version=%s sessions=%d clients=%d assistant=%v uptime=%s\n",
				health.Status, url, health.Version, health.Sessions, health.Clients, health.Assistant,
				(time.Duration(health.UptimeMs) * time.Millisecond).Round(time.Second))
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "gateway base URL (default http://127.0.0.1:<gateway.port>)")
	return cmd
}

// probeHealth fetches GET /health from a running gateway.
func probeHealth(ctx context.Context, baseURL, token string) (*gateway.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var health gateway.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decoding health: %w", err)
	}
	return &health, nil
}
