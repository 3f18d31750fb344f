// Package supabase provides a client for Supabase PostgREST.
// It backs the owner directory with the customer_profiles table.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/bank-ledger-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

var _ port.OwnerDirectory = (*Client)(nil)

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// doRequest executes an authenticated request to Supabase PostgREST.
// A 404 or 204 yields a nil body and no error.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return body, nil
}

// --- Owner directory (implements port.OwnerDirectory) ---

type profileRow struct {
	CustomerID string `json:"customer_id"`
}

// OwnerExists reports whether a customer profile exists for ownerID.
func (c *Client) OwnerExists(ctx context.Context, ownerID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.OwnerExists")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	var exists bool

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("customer_profiles?customer_id=eq.%s&select=customer_id&limit=1", url.QueryEscape(ownerID))
			body, err := c.doRequest(ctx, http.MethodGet, path)
			if err != nil {
				return err
			}
			if body == nil {
				exists = false
				return nil
			}

			var rows []profileRow
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode customer_profiles: %w", err)
			}
			exists = len(rows) > 0
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, &domain.ErrCircuitOpen{Service: "supabase"}
		}
		return false, &domain.ErrExternalService{Service: "supabase/customer_profiles", Err: err}
	}
	return exists, nil
}
