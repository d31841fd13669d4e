// opswatch polls the API's /metrics endpoint, evaluates the runbook
// rules against counter deltas, and reports proposed remediation
// actions to an optional external ops tools endpoint. It consumes the
// metrics boundary only; executing the actions is someone else's job.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"

	"github.com/ndquang2/shopstock/internal/runbook"
)

type proposalPayload struct {
	Service string            `json:"service"`
	Rule    string            `json:"rule"`
	Title   string            `json:"title"`
	Delta   float64           `json:"delta"`
	Tool    string            `json:"tool"`
	Params  map[string]string `json:"params,omitempty"`
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "opswatch").Logger()

	metricsURL := envOr("METRICS_URL", "http://localhost:8080/metrics")
	toolsURL := os.Getenv("OPS_TOOLS_URL")
	serviceName := envOr("OPS_SERVICE_NAME", "shopstock-api")
	interval := envDurationOr("POLL_INTERVAL", 30*time.Second)

	client := resty.New().SetTimeout(5 * time.Second)
	rules := runbook.DefaultRules()
	previous := map[string]float64{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("metrics_url", metricsURL).Dur("interval", interval).Msg("watching metrics")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		previous = poll(ctx, log, client, metricsURL, toolsURL, serviceName, rules, previous)

		select {
		case <-ctx.Done():
			log.Info().Msg("stopping")
			return
		case <-ticker.C:
		}
	}
}

func poll(ctx context.Context, log zerolog.Logger, client *resty.Client, metricsURL, toolsURL, serviceName string, rules []runbook.Rule, previous map[string]float64) map[string]float64 {
	resp, err := client.R().SetContext(ctx).Get(metricsURL)
	if err != nil {
		log.Error().Err(err).Msg("metrics scrape failed")
		return previous
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(resp.String()))
	if err != nil {
		log.Error().Err(err).Msg("metrics parse failed")
		return previous
	}

	findings, current := runbook.Evaluate(families, rules, previous)
	for _, finding := range findings {
		for _, action := range finding.Proposals() {
			log.Warn().
				Str("rule", finding.Rule.ID).
				Str("title", finding.Rule.Title).
				Float64("delta", finding.Delta).
				Str("tool", action.Tool).
				Msg("remediation proposed")

			if toolsURL == "" {
				continue
			}

			// Fire-and-forget; a failed report never blocks the watch.
			_, err := client.R().
				SetContext(ctx).
				SetBody(proposalPayload{
					Service: serviceName,
					Rule:    finding.Rule.ID,
					Title:   finding.Rule.Title,
					Delta:   finding.Delta,
					Tool:    action.Tool,
					Params:  action.Params,
				}).
				Post(toolsURL + "/" + action.Tool)
			if err != nil {
				log.Error().Err(err).Str("tool", action.Tool).Msg("proposal report failed")
			}
		}
	}

	return current
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
