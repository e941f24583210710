package http_request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client is used for every request. http.DefaultClient when nil.
	Client *http.Client
}

// Input defines the properties of the http_request runner.
type Input struct {
	URL          string `filter:"url"`
	Method       string `filter:"method,optional"`
	ExpectStatus int    `filter:"expect_status,optional"`
	Timeout      string `filter:"timeout,optional"`
}

// Handler returns the 'http_request' runner bound to client.
func Handler(client *http.Client) registry.Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, in *registry.Input) error {
		input := Input{Method: http.MethodGet, ExpectStatus: http.StatusOK}
		if err := in.Decode(ctx, &input); err != nil {
			return err
		}
		if input.Timeout != "" {
			d, err := time.ParseDuration(input.Timeout)
			if err != nil {
				return fmt.Errorf("failed to parse timeout: %w", err)
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		logger := ctxlog.FromContext(ctx)
		logger.Info("Making HTTP request", "method", input.Method, "url", input.URL)

		req, err := http.NewRequestWithContext(ctx, input.Method, input.URL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()

		n, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		logger.Info("Received HTTP response", "status", resp.Status, "bytes", n)

		if resp.StatusCode != input.ExpectStatus {
			return fmt.Errorf("unexpected status %d from %s, want %d", resp.StatusCode, input.URL, input.ExpectStatus)
		}
		return nil
	}
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("http_request", Handler(m.Client))
}
