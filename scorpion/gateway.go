package scorpion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mikeblum/scorpion-kpi/conf"
	"github.com/mikeblum/scorpion-kpi/kpi"
)

const dryRunRule = "----------------------------------------------------------------------"

// Gateway submits a service's measurements in one request, or in dry-run
// mode prints the equivalent curl command instead of sending anything.
type Gateway struct {
	client *Client
	live   bool
	out    io.Writer
	log    *conf.Log
}

// NewGateway returns a dry-run gateway writing to out unless live is set.
func NewGateway(client *Client, live bool, out io.Writer, log *conf.Log) *Gateway {
	return &Gateway{client: client, live: live, out: out, log: log}
}

func (g *Gateway) Live() bool {
	return g.live
}

// Submit sends or renders the measurements for the service with short code
// code. An empty list is a no-op.
func (g *Gateway) Submit(ctx context.Context, code string, measurements []kpi.Measurement) error {
	if len(measurements) == 0 {
		g.log.Info("No valid measurements to submit", "service", code)
		return nil
	}

	if !g.live {
		cmd, err := g.client.DryRunCommand(code, measurements)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(g.out, "\n--- [DRY RUN] Submission command for service '%s' ---\n%s\n%s\n", code, cmd, dryRunRule)
		return err
	}

	g.log.Info("Submitting measurements", "service", code, "count", len(measurements))
	if err := g.client.Submit(ctx, code, measurements); err != nil {
		return err
	}
	g.log.Info("Successfully submitted data", "service", code)
	return nil
}

// DryRunCommand renders the submission as a copy-pasteable curl command,
// credential included. Output depends only on its inputs.
func (c *Client) DryRunCommand(code string, measurements []kpi.Measurement) (string, error) {
	payload, err := json.Marshal(measurements)
	if err != nil {
		return "", fmt.Errorf("marshal measurements: %w", err)
	}
	return strings.Join([]string{
		"curl -X POST", shellQuote(c.MeasurementsURL(code)),
		"-H", shellQuote(headerAPIKey + ": " + c.apiKey),
		"-H", shellQuote(headerContentType + ": " + contentTypeJSON),
		"-d", shellQuote(string(payload)),
	}, " "), nil
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
