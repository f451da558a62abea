// Package notify posts run summaries and key rejections to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"

	"riot-ingester/internal/pipeline"
)

const (
	// Colors for Discord embeds
	colorRed    = 15158332 // 0xE74C3C
	colorGreen  = 5763719  // 0x57F287
	colorYellow = 16776960 // 0xFFFF00

	defaultWebhookTimeout = 10 * time.Second

	// Max attempts when Discord rate limits us
	maxRetries = 3
)

// WebhookPayload represents a Discord webhook message
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// NewRunSummaryPayload creates a payload summarizing one run of stage.
// A failed run is red, a run with per-record failures yellow, otherwise green.
func NewRunSummaryPayload(runID, stage string, stats []pipeline.Stats, runErr error) WebhookPayload {
	color := colorGreen
	title := "✅ Run finished: " + stage
	for _, s := range stats {
		if s.Failed > 0 {
			color = colorYellow
		}
	}
	embed := Embed{
		Title:     title,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: "run " + runID},
	}
	if runErr != nil {
		color = colorRed
		embed.Title = "❌ Run failed: " + stage
		embed.Description = runErr.Error()
	}
	embed.Color = color

	for _, s := range stats {
		embed.Fields = append(embed.Fields, EmbedField{
			Name: s.Stage,
			Value: fmt.Sprintf("%s ok / %s skipped / %s failed in %s",
				formatNumber(s.Processed), formatNumber(s.Skipped), formatNumber(s.Failed), formatDuration(s.Duration)),
		})
	}
	return WebhookPayload{Embeds: []Embed{embed}}
}

// NewKeyRejectedPayload creates a payload for a key the API refused.
func NewKeyRejectedPayload(keyLabel string, status int) WebhookPayload {
	return WebhookPayload{
		Content: "@here Riot API key rejected!",
		Embeds: []Embed{
			{
				Title: "🔑 API Key Rejected",
				Color: colorRed,
				Fields: []EmbedField{
					{Name: "Key", Value: keyLabel, Inline: true},
					{Name: "Status", Value: strconv.Itoa(status), Inline: true},
				},
				Footer: &EmbedFooter{
					Text: "Set a new RIOT_API_KEY and rerun the stage",
				},
			},
		},
	}
}

// WebhookClient sends notifications to Discord webhooks
type WebhookClient struct {
	webhookURL string
	keyLabel   string
	httpClient *http.Client
}

// WebhookOption configures a WebhookClient.
type WebhookOption func(*WebhookClient)

// WithKeyLabel sets the masked key shown in key rejection messages.
func WithKeyLabel(label string) WebhookOption {
	return func(c *WebhookClient) {
		c.keyLabel = label
	}
}

// NewWebhookClient creates a new WebhookClient
func NewWebhookClient(webhookURL string, opts ...WebhookOption) *WebhookClient {
	c := &WebhookClient{
		webhookURL: webhookURL,
		keyLabel:   "****",
		httpClient: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunFinished posts a run summary.
func (c *WebhookClient) RunFinished(ctx context.Context, runID, stage string, stats []pipeline.Stats, runErr error) error {
	return c.sendPayload(ctx, NewRunSummaryPayload(runID, stage, stats, runErr))
}

// KeyRejected posts a key rejection alert.
func (c *WebhookClient) KeyRejected(ctx context.Context, status int) error {
	return c.sendPayload(ctx, NewKeyRejectedPayload(c.keyLabel, status))
}

// sendPayload sends a webhook payload with retry on rate limiting
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return errors.Wrap(err, "create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "webhook request")
		}
		resp.Body.Close()

		// Discord returns 204 No Content
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := time.Second
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				wait = time.Duration(seconds) * time.Second
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return errors.Newf("webhook request failed with status %d", resp.StatusCode)
	}

	return errors.Newf("webhook request failed after %d attempts", maxRetries)
}

// formatNumber formats a number with commas (e.g., 47832 -> "47,832")
func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	if n < 1000 {
		return s
	}

	var result bytes.Buffer
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}

// formatDuration formats a duration as "Xh Ym Zs", dropping leading zero units.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
