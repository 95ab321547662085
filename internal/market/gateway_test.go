package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"nexuschat/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(stockURL, earningsURL string) *Gateway {
	return NewGateway(config.Config{
		MarketAPIKey:         "test-key",
		MarketStockURL:       stockURL,
		MarketEarningsURL:    earningsURL,
		MarketTimeoutSeconds: 2,
	})
}

func TestStockStatistics_SendsQueryAndHeaders(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[{"ticker":"AAPL"}]}`))
	}))
	defer srv.Close()

	g := newGateway(srv.URL, srv.URL)
	raw, err := g.StockStatistics(context.Background(), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":[{"ticker":"AAPL"}]}`, string(raw))

	require.NotNil(t, got)
	assert.Equal(t, "/stock/get-statistics", got.URL.Path)
	assert.Equal(t, DefaultStockID, got.URL.Query().Get("id"))
	assert.Equal(t, "STOCK", got.URL.Query().Get("template"))
	assert.Equal(t, "test-key", got.Header.Get("X-RapidAPI-Key"))
	u, _ := url.Parse(srv.URL)
	assert.Equal(t, u.Host, got.Header.Get("X-RapidAPI-Host"))
}

func TestMarketEarnings_Defaults(t *testing.T) {
	var q url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q = r.URL.Query()
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := newGateway(srv.URL, srv.URL)
	_, err := g.MarketEarnings(context.Background(), EarningsQuery{})
	require.NoError(t, err)

	assert.Equal(t, "US", q.Get("region"))
	assert.Equal(t, "1585155600000", q.Get("startDate"))
	assert.Equal(t, "1589475600000", q.Get("endDate"))
	assert.Equal(t, "10", q.Get("size"))
}

func TestGateway_Failures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{"upstream error status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}, http.StatusTooManyRequests},
		{"non json body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>oops</html>"))
		}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newGateway(srv.URL, srv.URL).StockStatistics(context.Background(), "msft:us")

			var gerr *GatewayError
			require.True(t, errors.As(err, &gerr), "error = %v, want GatewayError", err)
			assert.Equal(t, ProviderStock, gerr.Provider)
			assert.Equal(t, tt.wantStatus, gerr.Status)
		})
	}
}

func TestGateway_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newGateway(srv.URL, srv.URL).MarketEarnings(ctx, EarningsQuery{})

	var gerr *GatewayError
	require.True(t, errors.As(err, &gerr))
	assert.Zero(t, gerr.Status)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSnapshot_Degraded(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	snap, err := newGateway(ok.URL, bad.URL).Snapshot(context.Background(), "", EarningsQuery{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(snap.Stock))
	assert.Nil(t, snap.Earnings)
	assert.Contains(t, snap.Errors, ProviderEarnings)
	assert.NotContains(t, snap.Errors, ProviderStock)

	snap, err = newGateway(bad.URL, bad.URL).Snapshot(context.Background(), "", EarningsQuery{})
	require.Error(t, err)
	assert.Len(t, snap.Errors, 2)
}

func TestSnapshot_ErrorsOmitUpstreamBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal trace: db=10.0.0.7 user=svc", http.StatusInternalServerError)
	}))
	defer srv.Close()
	refused := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	refused.Close()

	snap, err := newGateway(srv.URL, refused.URL).Snapshot(context.Background(), "", EarningsQuery{})
	require.Error(t, err)
	assert.Equal(t, map[string]string{
		ProviderStock:    "upstream returned status 500",
		ProviderEarnings: "upstream request failed",
	}, snap.Errors)

	var gerr *GatewayError
	require.True(t, errors.As(err, &gerr))
	assert.NotContains(t, err.Error(), "internal trace")
}
