package extended

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"extended-cli/internal/api"
	"extended-cli/internal/exchange"
	"extended-cli/internal/interfaces"
	"extended-cli/internal/logger"
	"extended-cli/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	apiPrefix = "/api/v1"
	userAgent = "extended-cli/1.0"
)

type Params struct {
	DryRun      bool
	Network     string
	BaseURL     string
	APIKey      string
	PublicKey   string
	Vault       int64
	FeeRate     decimal.Decimal
	OrderExpiry time.Duration
	Timeout     time.Duration
	MaxAttempts int
	Signer      interfaces.Signer
}

// Client talks to the Extended REST API. In dry-run mode order placement
// and cancellation are simulated while market data stays live.
type Client struct {
	p      Params
	http   *api.Client
	retry  *api.RetryConfig
	now    func() time.Time
	nonce  func() uint32
	simSeq atomic.Int64
}

var _ interfaces.Exchange = (*Client)(nil)

func NewClient(p Params) *Client {
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.OrderExpiry <= 0 {
		p.OrderExpiry = time.Hour
	}
	retry := api.DefaultRetryConfig()
	if p.MaxAttempts > 0 {
		retry.MaxAttempts = p.MaxAttempts
	}

	opts := []api.ClientOption{
		api.WithBaseURL(strings.TrimRight(p.BaseURL, "/") + apiPrefix),
		api.WithTimeout(p.Timeout),
		api.WithHeader("User-Agent", userAgent),
		api.WithLogging(true),
	}
	if p.APIKey != "" {
		opts = append(opts, api.WithHeader("X-Api-Key", p.APIKey))
	}

	return &Client{
		p:     p,
		http:  api.NewClient(opts...),
		retry: retry,
		now:   time.Now,
		nonce: func() uint32 { return rand.Uint32N(1 << 31) },
	}
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Markets(ctx context.Context) ([]types.Market, error) {
	resp, err := c.http.DoWithRetry(api.NewRequest(http.MethodGet, "/info/markets").WithContext(ctx), c.retry)
	if err != nil {
		return nil, fmt.Errorf("get markets: %w", toAPIError(err))
	}
	var markets []types.Market
	if err := decode(resp, &markets); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	return markets, nil
}

func (c *Client) Positions(ctx context.Context, markets ...string) ([]types.Position, error) {
	path := "/user/positions"
	if len(markets) > 0 {
		q := url.Values{}
		for _, m := range markets {
			q.Add("market", m)
		}
		path += "?" + q.Encode()
	}

	resp, err := c.http.DoWithRetry(api.NewRequest(http.MethodGet, path).WithContext(ctx), c.retry)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", toAPIError(err))
	}
	var positions []types.Position
	if err := decode(resp, &positions); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return positions, nil
}

type orderSettlement struct {
	Signature          types.Signature `json:"signature"`
	StarkKey           string          `json:"starkKey"`
	CollateralPosition string          `json:"collateralPosition"`
}

type orderBody struct {
	ID                       string          `json:"id"`
	Market                   string          `json:"market"`
	Type                     string          `json:"type"`
	Side                     types.Side      `json:"side"`
	Qty                      decimal.Decimal `json:"qty"`
	Price                    decimal.Decimal `json:"price"`
	TimeInForce              string          `json:"timeInForce"`
	ExpiryEpochMillis        int64           `json:"expiryEpochMillis"`
	Fee                      decimal.Decimal `json:"fee"`
	Nonce                    string          `json:"nonce"`
	Settlement               orderSettlement `json:"settlement"`
	ReduceOnly               bool            `json:"reduceOnly"`
	PostOnly                 bool            `json:"postOnly"`
	SelfTradeProtectionLevel string          `json:"selfTradeProtectionLevel"`
}

type placedOrder struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"externalId"`
}

func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	if err := validateOrder(req); err != nil {
		return types.OrderResponse{}, err
	}
	externalID := uuid.NewString()

	if c.p.DryRun {
		resp := types.OrderResponse{
			ID:         fmt.Sprintf("SIM-%d", c.simSeq.Add(1)),
			ExternalID: externalID,
			Status:     "SIMULATED",
		}
		logger.Info(ctx, "Simulated order placed",
			"market", req.Market, "side", req.Side, "qty", req.Qty.String(), "price", req.Price.String(), "order_id", resp.ID)
		return resp, nil
	}

	if c.p.Signer == nil {
		return types.OrderResponse{}, errors.New("no order signer configured")
	}

	expiry := c.now().Add(c.p.OrderExpiry).UnixMilli()
	nonce := c.nonce()
	collateral := req.Qty.Mul(req.Price)

	sig, err := c.p.Signer.Sign(ctx, types.SettlementRequest{
		Market:            req.Market,
		Side:              req.Side,
		SyntheticAmount:   req.Qty,
		CollateralAmount:  collateral,
		Fee:               collateral.Mul(c.p.FeeRate),
		Nonce:             nonce,
		ExpiryEpochMillis: expiry,
		Vault:             c.p.Vault,
		PublicKey:         c.p.PublicKey,
		Network:           c.p.Network,
	})
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("sign order: %w", err)
	}

	body := orderBody{
		ID:                externalID,
		Market:            req.Market,
		Type:              "LIMIT",
		Side:              req.Side,
		Qty:               req.Qty,
		Price:             req.Price,
		TimeInForce:       "GTT",
		ExpiryEpochMillis: expiry,
		Fee:               c.p.FeeRate,
		Nonce:             strconv.FormatUint(uint64(nonce), 10),
		Settlement: orderSettlement{
			Signature:          sig,
			StarkKey:           c.p.PublicKey,
			CollateralPosition: strconv.FormatInt(c.p.Vault, 10),
		},
		ReduceOnly:               req.ReduceOnly,
		PostOnly:                 req.PostOnly,
		SelfTradeProtectionLevel: "ACCOUNT",
	}

	// Not retried: a timeout may still have reached the matching engine.
	resp, err := c.http.POST(ctx, "/user/order", body)
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("place order: %w", toAPIError(err))
	}
	var placed placedOrder
	if err := decode(resp, &placed); err != nil {
		return types.OrderResponse{}, fmt.Errorf("place order: %w", err)
	}
	if placed.ExternalID == "" {
		placed.ExternalID = externalID
	}

	return types.OrderResponse{
		ID:         strconv.FormatInt(placed.ID, 10),
		ExternalID: placed.ExternalID,
		Status:     "PLACED",
	}, nil
}

func (c *Client) MassCancel(ctx context.Context, req types.MassCancelRequest) error {
	if !req.CancelAll && len(req.OrderIDs) == 0 && len(req.ExternalOrderIDs) == 0 && len(req.Markets) == 0 {
		return errors.New("mass cancel needs cancelAll or at least one filter")
	}
	if c.p.DryRun {
		logger.Info(ctx, "Simulated mass cancel", "cancel_all", req.CancelAll, "markets", req.Markets)
		return nil
	}

	resp, err := c.http.POST(ctx, "/user/order/massCancel", req)
	if err != nil {
		return fmt.Errorf("mass cancel: %w", toAPIError(err))
	}
	if err := decode(resp, nil); err != nil {
		return fmt.Errorf("mass cancel: %w", err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	c.http.Close()
	return nil
}

func validateOrder(req types.OrderRequest) error {
	if req.Market == "" {
		return errors.New("order market is empty")
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return fmt.Errorf("invalid order side %q", req.Side)
	}
	if req.Qty.Sign() <= 0 {
		return fmt.Errorf("order quantity must be positive, got %s", req.Qty)
	}
	if req.Price.Sign() <= 0 {
		return fmt.Errorf("order price must be positive, got %s", req.Price)
	}
	return nil
}

func decode(resp *api.Response, out any) error {
	var env envelope
	if err := resp.ParseJSON(&env); err != nil {
		return err
	}
	if env.Status != "" && !strings.EqualFold(env.Status, "OK") {
		apiErr := &exchange.APIError{StatusCode: resp.StatusCode, Message: env.Status}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// toAPIError turns an HTTP error status into an APIError, pulling the
// message out of the exchange envelope when the body has one.
func toAPIError(err error) error {
	var httpErr *api.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	apiErr := &exchange.APIError{StatusCode: httpErr.StatusCode, Message: string(httpErr.Body)}
	var env envelope
	if json.Unmarshal(httpErr.Body, &env) == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}
