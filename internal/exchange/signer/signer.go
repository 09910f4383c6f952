package signer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"extended-cli/internal/api"
	"extended-cli/internal/interfaces"
	"extended-cli/internal/types"
)

// Remote asks an external signing service for the Stark signature of a
// settlement. The service receives the settlement as JSON and answers with
// {"r": "0x..", "s": "0x.."}. The private key never leaves that service.
type Remote struct {
	client *api.Client
	retry  *api.RetryConfig
}

var _ interfaces.Signer = (*Remote)(nil)

func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		client: api.NewClient(api.WithBaseURL(url), api.WithTimeout(timeout), api.WithLogging(true)),
		retry:  api.DefaultRetryConfig(),
	}
}

func (r *Remote) Sign(ctx context.Context, req types.SettlementRequest) (types.Signature, error) {
	resp, err := r.client.DoWithRetry(api.NewRequest(http.MethodPost, "").WithContext(ctx).WithBody(req), r.retry)
	if err != nil {
		return types.Signature{}, fmt.Errorf("signer request failed: %w", err)
	}

	var sig types.Signature
	if err := resp.ParseJSON(&sig); err != nil {
		return types.Signature{}, err
	}
	if sig.R == "" || sig.S == "" {
		return types.Signature{}, errors.New("signer returned an incomplete signature")
	}
	return sig, nil
}

// Func adapts a plain function to the Signer interface.
type Func func(ctx context.Context, req types.SettlementRequest) (types.Signature, error)

func (f Func) Sign(ctx context.Context, req types.SettlementRequest) (types.Signature, error) {
	return f(ctx, req)
}
