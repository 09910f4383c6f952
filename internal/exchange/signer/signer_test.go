package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"extended-cli/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteSign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.SettlementRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTC-USD", req.Market)
		assert.Equal(t, uint32(7), req.Nonce)
		assert.True(t, req.SyntheticAmount.Equal(decimal.RequireFromString("0.5")))
		w.Write([]byte(`{"r":"0xaa","s":"0xbb"}`))
	}))
	defer srv.Close()

	sig, err := NewRemote(srv.URL, time.Second).Sign(context.Background(), types.SettlementRequest{
		Market:          "BTC-USD",
		Nonce:           7,
		SyntheticAmount: decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.Signature{R: "0xaa", S: "0xbb"}, sig)
}

func TestRemoteSignIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"r":"0xaa"}`))
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, time.Second).Sign(context.Background(), types.SettlementRequest{})
	assert.ErrorContains(t, err, "incomplete")
}

func TestRemoteSignRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, time.Second).Sign(context.Background(), types.SettlementRequest{})
	assert.ErrorContains(t, err, "signer request failed")
}

func TestFunc(t *testing.T) {
	f := Func(func(ctx context.Context, req types.SettlementRequest) (types.Signature, error) {
		return types.Signature{R: req.Market, S: "s"}, nil
	})
	sig, err := f.Sign(context.Background(), types.SettlementRequest{Market: "ETH-USD"})
	require.NoError(t, err)
	assert.Equal(t, "ETH-USD", sig.R)
}
