// Package client holds HTTP clients for external collaborators.
package client

import (
	"context"
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
)

var tracer = otel.Tracer("client")

// OwnerClient asks the identity API whether an owner exists.
type OwnerClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

var _ port.OwnerDirectory = (*OwnerClient)(nil)

// NewOwnerClient creates a new OwnerClient.
func NewOwnerClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *OwnerClient {
	return &OwnerClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

// OwnerExists calls GET {base}/v1/owners/{id} with retry, circuit breaker, and tracing.
// 200 means the owner exists, 404 means it does not.
func (c *OwnerClient) OwnerExists(ctx context.Context, ownerID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "OwnerClient.OwnerExists")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	result, err := c.cb.Execute(func() (any, error) {
		var exists bool
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			u := fmt.Sprintf("%s/v1/owners/%s", c.baseURL, url.PathEscape(ownerID))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return err
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
				exists = true
				return nil
			case http.StatusNotFound:
				exists = false
				return nil
			default:
				return fmt.Errorf("identity API returned status %d", resp.StatusCode)
			}
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return exists, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, &domain.ErrCircuitOpen{Service: "identity"}
		}
		return false, &domain.ErrExternalService{Service: "identity", Err: err}
	}

	return result.(bool), nil
}
