package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"texttools/internal/batch"
)

const userAgent = "texttools/0.1.0"

// Ntfy posts a completion summary for each fetched job to an ntfy topic URL.
type Ntfy struct {
	endpoint string
	client   *http.Client
}

// NewNtfy constructs an Ntfy handler. A nil client uses http.DefaultClient.
func NewNtfy(endpoint string, client *http.Client) *Ntfy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Ntfy{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (*Ntfy) Name() string { return "ntfy" }

func (n *Ntfy) Handle(ctx context.Context, jobName string, results batch.ResultSet) error {
	failed := len(results.Failed())
	parsed := results.Len() - failed

	title := "texttools - Job Complete"
	tags := []string{"texttools", "batch", "completed"}
	priority := ""
	message := fmt.Sprintf("Job %s finished: %d items parsed", jobName, parsed)
	if failed > 0 {
		title = "texttools - Job Complete (with failures)"
		tags = append(tags, "warning")
		priority = "high"
		message = fmt.Sprintf("Job %s finished: %d parsed, %d failed", jobName, parsed, failed)
	}
	return n.send(ctx, title, message, tags, priority)
}

func (n *Ntfy) send(ctx context.Context, title, message string, tags []string, priority string) error {
	if n.endpoint == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if priority != "" {
		req.Header.Set("Priority", priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
