// Package webhook posts finished results to caller-supplied callback URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dvloznov/statement-categorizer/internal/domain"
)

// Deliverer sends a result with a single POST. There is no retry.
type Deliverer struct {
	client *http.Client
}

// NewDeliverer creates a Deliverer. The client's timeout bounds each delivery.
func NewDeliverer(client *http.Client) *Deliverer {
	return &Deliverer{client: client}
}

// Deliver POSTs result as JSON to url. Any transport error or non-2xx status
// is returned.
func (d *Deliverer) Deliver(ctx context.Context, url string, result domain.DocumentResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("Deliver: encoding result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("Deliver: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("Deliver: posting to %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("Deliver: %s answered %s", url, resp.Status)
	}
	return nil
}
