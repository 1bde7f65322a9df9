package wallet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	balance float64
	err     error
	calls   int
}

func (s *stubFetcher) Balance(ctx context.Context, userID uuid.UUID) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.balance, nil
}

func TestServiceBalanceFresh(t *testing.T) {
	svc := NewService(&stubFetcher{balance: 42}, nil, nil)
	bal, err := svc.Balance(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 42.0, bal.Balance)
	assert.False(t, bal.Cached)
}

func TestServiceBalanceNoFallbackWithoutEstimate(t *testing.T) {
	svc := NewService(&stubFetcher{err: errors.New("down")}, nil, nil)
	_, err := svc.Balance(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestServiceRefreshNeverFallsBack(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("down")}
	svc := NewService(fetcher, nil, nil)
	_, err := svc.Refresh(context.Background(), uuid.New())
	assert.Error(t, err)
	assert.Equal(t, 1, fetcher.calls)
}

func TestServiceEstimateMissingWithoutRedis(t *testing.T) {
	svc := NewService(&stubFetcher{}, nil, nil)
	_, ok := svc.Estimate(context.Background(), uuid.New())
	assert.False(t, ok)
}

func TestClientBalance(t *testing.T) {
	userID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fmt.Sprintf("/wallets/%s/balance", userID), r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balance": 123.5}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "key", time.Second)
	bal, err := c.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 123.5, bal)
}

func TestClientBalanceNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Balance(context.Background(), uuid.New())
	assert.Error(t, err)
}
