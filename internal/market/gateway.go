package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"nexuschat/internal/config"
	"nexuschat/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	ProviderStock    = "stock"
	ProviderEarnings = "earnings"

	DefaultStockID  = "aapl:us"
	DefaultRegion   = "US"
	DefaultSize     = 10
	DefaultStartMs  = int64(1585155600000)
	DefaultEndMs    = int64(1589475600000)
	maxResponseSize = 4 << 20
	maxLoggedBody   = 512
)

var errUnexpectedStatus = errors.New("unexpected response status")

// GatewayError 描述一次第三方行情接口调用失败，Status 为 0 表示未拿到响应。
type GatewayError struct {
	Provider string
	Status   int
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s provider returned status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s provider request failed: %v", e.Provider, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Reason 是可以返回给客户端的简短原因，不含上游响应内容。
func (e *GatewayError) Reason() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return "upstream request failed"
}

func reason(err error) string {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Reason()
	}
	return "upstream request failed"
}

// EarningsQuery 为财报查询参数，时间为毫秒级时间戳。
type EarningsQuery struct {
	Region    string
	StartDate int64
	EndDate   int64
	Size      int
}

// Snapshot 汇总两个行情源的结果，失败的一侧为 nil 并在 Errors 中记录状态码。
type Snapshot struct {
	Stock    json.RawMessage   `json:"stock"`
	Earnings json.RawMessage   `json:"earnings"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Gateway 转发固定查询到 RapidAPI 行情接口，原样透传 JSON。
type Gateway struct {
	httpClient  *http.Client
	apiKey      string
	stockURL    string
	earningsURL string
}

func NewGateway(cfg config.Config) *Gateway {
	return &Gateway{
		httpClient:  &http.Client{Timeout: time.Duration(cfg.MarketTimeoutSeconds) * time.Second},
		apiKey:      cfg.MarketAPIKey,
		stockURL:    cfg.MarketStockURL,
		earningsURL: cfg.MarketEarningsURL,
	}
}

// StockStatistics 查询单只股票的统计数据。
func (g *Gateway) StockStatistics(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" {
		id = DefaultStockID
	}
	q := url.Values{}
	q.Set("id", id)
	q.Set("template", "STOCK")
	return g.get(ctx, ProviderStock, g.stockURL, "/stock/get-statistics", q)
}

// MarketEarnings 查询时间区间内的财报日历。
func (g *Gateway) MarketEarnings(ctx context.Context, eq EarningsQuery) (json.RawMessage, error) {
	if eq.Region == "" {
		eq.Region = DefaultRegion
	}
	if eq.Size <= 0 {
		eq.Size = DefaultSize
	}
	if eq.StartDate <= 0 {
		eq.StartDate = DefaultStartMs
	}
	if eq.EndDate <= 0 {
		eq.EndDate = DefaultEndMs
	}
	q := url.Values{}
	q.Set("region", eq.Region)
	q.Set("startDate", strconv.FormatInt(eq.StartDate, 10))
	q.Set("endDate", strconv.FormatInt(eq.EndDate, 10))
	q.Set("size", strconv.Itoa(eq.Size))
	return g.get(ctx, ProviderEarnings, g.earningsURL, "/market/get-earnings", q)
}

// Snapshot 并发调用两个行情源；只有全部失败时才返回 error。
func (g *Gateway) Snapshot(ctx context.Context, stockID string, eq EarningsQuery) (*Snapshot, error) {
	var (
		out               Snapshot
		stockErr, earnErr error
		eg                errgroup.Group
	)
	eg.Go(func() error {
		out.Stock, stockErr = g.StockStatistics(ctx, stockID)
		return nil
	})
	eg.Go(func() error {
		out.Earnings, earnErr = g.MarketEarnings(ctx, eq)
		return nil
	})
	_ = eg.Wait()

	if stockErr != nil || earnErr != nil {
		out.Errors = make(map[string]string, 2)
	}
	if stockErr != nil {
		out.Errors[ProviderStock] = reason(stockErr)
	}
	if earnErr != nil {
		out.Errors[ProviderEarnings] = reason(earnErr)
	}
	if stockErr != nil && earnErr != nil {
		return &out, errors.Join(stockErr, earnErr)
	}
	return &out, nil
}

func (g *Gateway) get(ctx context.Context, provider, base, path string, q url.Values) (json.RawMessage, error) {
	u, err := url.Parse(base + path)
	if err != nil {
		return nil, g.fail(provider, 0, err, nil)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, g.fail(provider, 0, err, nil)
	}
	req.Header.Set("X-RapidAPI-Key", g.apiKey)
	req.Header.Set("X-RapidAPI-Host", u.Host)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, g.fail(provider, 0, err, nil)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, g.fail(provider, resp.StatusCode, err, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, g.fail(provider, resp.StatusCode, errUnexpectedStatus, body)
	}
	if !json.Valid(body) {
		return nil, g.fail(provider, resp.StatusCode, errors.New("response is not valid JSON"), body)
	}

	metrics.GatewayRequestsTotal.WithLabelValues(provider, "ok").Inc()
	return json.RawMessage(body), nil
}

// fail 记录失败及上游响应片段，响应内容只进日志。
func (g *Gateway) fail(provider string, status int, err error, body []byte) error {
	metrics.GatewayRequestsTotal.WithLabelValues(provider, "error").Inc()
	ev := log.Warn().Err(err).Str("provider", provider).Int("status", status)
	if len(body) > 0 {
		ev = ev.Bytes("body", body[:min(len(body), maxLoggedBody)])
	}
	ev.Msg("market gateway call failed")
	return &GatewayError{Provider: provider, Status: status, Err: err}
}
