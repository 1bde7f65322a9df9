package rewards

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-rewards/backend/internal/models"
)

func testClaim() *models.RewardClaim {
	now := time.Now()
	return &models.RewardClaim{
		UserID:        uuid.New(),
		MediaID:       uuid.New(),
		WatchStart:    now.Add(-5 * time.Minute),
		WatchEnd:      now,
		WatchFraction: 1,
		IsValidated:   true,
		Amount:        10,
	}
}

func newProviderStub(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/claims", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", time.Second)
}

func TestSubmitClaimSuccess(t *testing.T) {
	c := newProviderStub(t, http.StatusOK, `{"message":"credited"}`)
	assert.NoError(t, c.SubmitClaim(context.Background(), testClaim()))
}

func TestSubmitClaimExactDuplicateMessage(t *testing.T) {
	c := newProviderStub(t, http.StatusConflict, `{"message":"User has already watched this video"}`)
	err := c.SubmitClaim(context.Background(), testClaim())
	assert.ErrorIs(t, err, ErrAlreadyWatched)
}

func TestSubmitClaimDuplicateSubstringMatch(t *testing.T) {
	// older provider versions word the message differently
	c := newProviderStub(t, http.StatusBadRequest, `{"message":"rejected: viewer ALREADY WATCHED this one"}`)
	err := c.SubmitClaim(context.Background(), testClaim())
	assert.ErrorIs(t, err, ErrAlreadyWatched)
}

func TestSubmitClaimValidationError(t *testing.T) {
	c := newProviderStub(t, http.StatusBadRequest, `{"message":"watch fraction too low"}`)
	err := c.SubmitClaim(context.Background(), testClaim())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "watch fraction too low", verr.Message)
	assert.NotErrorIs(t, err, ErrAlreadyWatched)
}

func TestSubmitClaimServerError(t *testing.T) {
	c := newProviderStub(t, http.StatusInternalServerError, `oops`)
	err := c.SubmitClaim(context.Background(), testClaim())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyWatched)
	assert.Contains(t, err.Error(), "500")
}

func TestSubmitClaimSendsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "secret-key", time.Second)
	require.NoError(t, c.SubmitClaim(context.Background(), testClaim()))
	assert.Equal(t, "Bearer secret-key", gotAuth)
}
