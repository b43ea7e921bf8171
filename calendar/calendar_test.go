package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"consulta/apperr"
	"consulta/models"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeTokenStore struct {
	tokens map[models.ExpertID]*oauth2.Token
	loads  int
}

func (f *fakeTokenStore) Load(ctx context.Context, expertID models.ExpertID) (*oauth2.Token, error) {
	f.loads++
	tok, ok := f.tokens[expertID]
	if !ok {
		return nil, context.Canceled
	}
	return tok, nil
}

func (f *fakeTokenStore) Save(ctx context.Context, expertID models.ExpertID, tok *oauth2.Token) error {
	f.tokens[expertID] = tok
	return nil
}

func TestHasValidTokens_CachesPositiveResult(t *testing.T) {
	store := &fakeTokenStore{tokens: map[models.ExpertID]*oauth2.Token{
		"expert-1": {AccessToken: "tok", Expiry: time.Now().Add(time.Hour)},
	}}
	gw := New(nil, store, "")

	require.True(t, gw.HasValidTokens(context.Background(), "expert-1"))
	require.True(t, gw.HasValidTokens(context.Background(), "expert-1"))
	require.Equal(t, 1, store.loads, "second call should hit the probe cache, not the token store")
}

func TestHasValidTokens_DoesNotCacheNegativeResult(t *testing.T) {
	store := &fakeTokenStore{tokens: map[models.ExpertID]*oauth2.Token{}}
	gw := New(nil, store, "")

	require.False(t, gw.HasValidTokens(context.Background(), "expert-2"))
	require.False(t, gw.HasValidTokens(context.Background(), "expert-2"))
	require.Equal(t, 2, store.loads, "negative results must never be cached")
}

func connectedStore(expertID models.ExpertID) *fakeTokenStore {
	return &fakeTokenStore{tokens: map[models.ExpertID]*oauth2.Token{
		expertID: {AccessToken: "tok", Expiry: time.Now().Add(time.Hour)},
	}}
}

func TestBusyIntervals_RetriesRateLimitedFetchWithBackoff(t *testing.T) {
	saved := busyRetryBase
	busyRetryBase = time.Millisecond
	t.Cleanup(func() { busyRetryBase = saved })

	gw := New(nil, connectedStore("expert-1"), "")
	want := []models.CalendarBusyInterval{{
		StartInstant: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
		EndInstant:   time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
	}}

	var calls int
	gw.fetch = func(ctx context.Context, expertID models.ExpertID, tok *oauth2.Token, from, to time.Time) ([]models.CalendarBusyInterval, error) {
		calls++
		if calls < 3 {
			return nil, apperr.New(apperr.UpstreamRateLimited, "calendar provider rate limited")
		}
		return want, nil
	}

	got, err := gw.BusyIntervals(context.Background(), "expert-1", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, 3, calls, "two rate-limited responses must be retried, the third answer returned")
}

func TestBusyIntervals_GivesUpAfterBoundedRetries(t *testing.T) {
	saved := busyRetryBase
	busyRetryBase = time.Millisecond
	t.Cleanup(func() { busyRetryBase = saved })

	gw := New(nil, connectedStore("expert-1"), "")
	var calls int
	gw.fetch = func(ctx context.Context, expertID models.ExpertID, tok *oauth2.Token, from, to time.Time) ([]models.CalendarBusyInterval, error) {
		calls++
		return nil, apperr.New(apperr.UpstreamRateLimited, "calendar provider rate limited")
	}

	_, err := gw.BusyIntervals(context.Background(), "expert-1", time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.UpstreamRateLimited))
	require.Equal(t, 3, calls, "retries are bounded")
}

func TestBusyIntervals_NonRetryableFailsImmediately(t *testing.T) {
	gw := New(nil, connectedStore("expert-1"), "")
	var calls int
	gw.fetch = func(ctx context.Context, expertID models.ExpertID, tok *oauth2.Token, from, to time.Time) ([]models.CalendarBusyInterval, error) {
		calls++
		return nil, apperr.New(apperr.Unauthorized, "calendar token expired or revoked")
	}

	_, err := gw.BusyIntervals(context.Background(), "expert-1", time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	require.Equal(t, 1, calls, "a non-retryable error must not be retried")
}

func TestWithJitter_StaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := withJitter(base)
		require.GreaterOrEqual(t, d, base)
		require.LessOrEqual(t, d, base+base/2)
	}
}

func TestExchange_PersistsTokenAndClearsProbe(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","refresh_token":"refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(tokenSrv.Close)

	store := &fakeTokenStore{tokens: map[models.ExpertID]*oauth2.Token{}}
	cfg := OAuthConfig("client-id", "client-secret", "https://app.consulta.example/api/calendar/oauth/callback")
	cfg.Endpoint = oauth2.Endpoint{AuthURL: tokenSrv.URL + "/auth", TokenURL: tokenSrv.URL + "/token"}
	gw := New(cfg, store, "")

	require.False(t, gw.HasValidTokens(context.Background(), "expert-1"))

	require.NoError(t, gw.Exchange(context.Background(), "expert-1", "auth-code"))

	tok, ok := store.tokens["expert-1"]
	require.True(t, ok, "exchange must persist the token for the expert in state")
	require.Equal(t, "refresh", tok.RefreshToken)
	require.True(t, gw.HasValidTokens(context.Background(), "expert-1"))
}

func TestAuthCodeURL_CarriesExpertStateAndOfflineAccess(t *testing.T) {
	cfg := OAuthConfig("client-id", "client-secret", "https://app.consulta.example/api/calendar/oauth/callback")
	gw := New(cfg, &fakeTokenStore{tokens: map[models.ExpertID]*oauth2.Token{}}, "")

	url, err := gw.AuthCodeURL("expert-1")
	require.NoError(t, err)
	require.Contains(t, url, "state=expert-1")
	require.Contains(t, url, "access_type=offline")
}
