package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loykin/watchdog/internal/history"
)

// Sink POSTs each event as a JSON document to an HTTP endpoint.
type Sink struct {
	client *http.Client
	url    string
}

func New(url string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, url: url}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink status %d", resp.StatusCode)
	}
	return nil
}
