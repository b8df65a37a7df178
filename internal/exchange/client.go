// Package exchange implements the perpetual exchange's REST and WebSocket clients.
//
// The REST client (Client) talks to the exchange's trading API for order management:
//   - GetOrderbook:  GET    /v1/public/orderbook/{symbol} — fetch L2 book for mark price
//   - CreateLimitOrder, CreateMarketOrder: POST /v1/order  — place one order
//   - CancelOrder:   DELETE /v1/order                      — cancel one order by ID
//   - CancelOrders:  DELETE /v1/orders                     — cancel a batch by ID
//   - CancelAll:     DELETE /v1/orders/all                 — emergency cancel everything
//   - GetPositions:  GET    /v1/positions                  — current position snapshot
//   - GetOrders:     GET    /v1/orders                     — open order snapshot
//   - DeriveAPIKey:  POST   /v1/orderly_key                — bootstrap trading creds from L1 wallet
//
// Order placement, cancels and book reads are rate-limited via per-category
// TokenBuckets; position and open-order queries are not. Every request is
// automatically retried on 5xx and transport errors. Requests carry HMAC headers,
// except public book reads and DeriveAPIKey, which sends the wallet's (L1)
// registration headers.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

// Client is the exchange's REST API client. It wraps a resty HTTP client with
// rate limiting, retry, and auth.
type Client struct {
	http   *resty.Client // HTTP client with retry + base URL
	auth   *Auth         // L1/L2 auth provider for request signing
	rl     *RateLimiter  // per-endpoint-category rate limiting
	dryRun bool          // when true, mutating methods return fake success without HTTP calls
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

// orderRequest is the wire shape the REST API expects for order placement.
type orderRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	OrderType  string `json:"order_type"`
	Price      string `json:"order_price,omitempty"`
	Quantity   string `json:"order_quantity"`
	ReduceOnly bool   `json:"reduce_only"`
	ClientID   string `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// GetOrderbook fetches the order book for a symbol.
func (c *Client) GetOrderbook(ctx context.Context, symbol string) (*OrderbookSnapshot, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result OrderbookSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/v1/public/orderbook/%s", symbol))
	if err != nil {
		return nil, fmt.Errorf("get orderbook: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get orderbook: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// OrderbookSnapshot is the top-of-book response used only for mark-price fallback.
type OrderbookSnapshot struct {
	Symbol string          `json:"symbol"`
	Bids   [][2]decimal.Decimal `json:"bids"`
	Asks   [][2]decimal.Decimal `json:"asks"`
}

func (c *Client) placeOrder(ctx context.Context, req orderRequest) (*types.OrderRecord, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "symbol", req.Symbol, "side", req.Side, "qty", req.Quantity)
		return &types.OrderRecord{
			OrderID: fmt.Sprintf("dry-run-%s", req.ClientID),
			Symbol:  req.Symbol,
			Status:  types.OrderStatusNew,
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.TradingHeaders("POST", "/v1/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("trading headers: %w", err)
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/v1/order")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return &types.OrderRecord{
		OrderID:  result.OrderID,
		ClientID: req.ClientID,
		Symbol:   req.Symbol,
		Status:   types.OrderStatusNew,
	}, nil
}

// CreateLimitOrder places a resting limit order.
func (c *Client) CreateLimitOrder(ctx context.Context, clientID, symbol string, side types.Side, price, qty decimal.Decimal, reduceOnly bool) (*types.OrderRecord, error) {
	return c.placeOrder(ctx, orderRequest{
		Symbol:     symbol,
		Side:       string(side),
		OrderType:  string(types.OrderTypeLimit),
		Price:      price.String(),
		Quantity:   qty.String(),
		ReduceOnly: reduceOnly,
		ClientID:   clientID,
	})
}

// CreateMarketOrder places an immediate-execution market order.
func (c *Client) CreateMarketOrder(ctx context.Context, clientID, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (*types.OrderRecord, error) {
	return c.placeOrder(ctx, orderRequest{
		Symbol:     symbol,
		Side:       string(side),
		OrderType:  string(types.OrderTypeMarket),
		Quantity:   qty.String(),
		ReduceOnly: reduceOnly,
		ClientID:   clientID,
	})
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"symbol":%q,"order_id":%q}`, symbol, orderID)
	headers, err := c.auth.TradingHeaders("DELETE", "/v1/order", body)
	if err != nil {
		return fmt.Errorf("trading headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Delete("/v1/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelOrders cancels multiple orders by ID.
func (c *Client) CancelOrders(ctx context.Context, symbol string, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", "count", len(orderIDs))
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	payload := struct {
		Symbol   string   `json:"symbol"`
		OrderIDs []string `json:"order_ids"`
	}{Symbol: symbol, OrderIDs: orderIDs}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.TradingHeaders("DELETE", "/v1/orders", string(body))
	if err != nil {
		return fmt.Errorf("trading headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Delete("/v1/orders")
	if err != nil {
		return fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("orders cancelled", "count", len(orderIDs))
	return nil
}

// CancelAll cancels every open order for a symbol, used as the stop-session
// safety net.
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders", "symbol", symbol)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.TradingHeaders("DELETE", "/v1/orders/all", "")
	if err != nil {
		return fmt.Errorf("trading headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("symbol", symbol).
		Delete("/v1/orders/all")
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "symbol", symbol)
	return nil
}

// GetPositions fetches the account's current open positions.
func (c *Client) GetPositions(ctx context.Context) ([]types.PositionInfo, error) {
	headers, err := c.auth.TradingHeaders("GET", "/v1/positions", "")
	if err != nil {
		return nil, fmt.Errorf("trading headers: %w", err)
	}

	var result struct {
		Rows []types.PositionInfo `json:"rows"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/v1/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Rows, nil
}

// GetOrders fetches currently open orders for a symbol.
func (c *Client) GetOrders(ctx context.Context, symbol string) ([]types.OrderRecord, error) {
	headers, err := c.auth.TradingHeaders("GET", "/v1/orders", "")
	if err != nil {
		return nil, fmt.Errorf("trading headers: %w", err)
	}

	var result struct {
		Rows []types.OrderRecord `json:"rows"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Rows, nil
}

// DeriveAPIKey registers a new trading API key against the wallet's account
// via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.RegistrationHeaders(0)
	if err != nil {
		return nil, fmt.Errorf("registration headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Post("/v1/orderly_key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("trading API key derived", "key", result.Key)
	return &result, nil
}
