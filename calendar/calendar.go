// Package calendar implements the Calendar Gateway: the sole path
// by which the core learns about an Expert's busy intervals on an
// external calendar. Each Expert connects their calendar through the
// OAuth2 authorization-code flow; the refresh token is persisted per
// Expert and freshness is probed and cached. Calls against the provider
// are paced with golang.org/x/time/rate plus jittered backoff on
// retryable failures.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"consulta/apperr"
	"consulta/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	calendarv3 "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TokenStore persists and refreshes OAuth2 credentials per Expert. The
// concrete store (DB-backed) lives outside this package; calendar only
// needs the contract.
type TokenStore interface {
	Load(ctx context.Context, expertID models.ExpertID) (*oauth2.Token, error)
	Save(ctx context.Context, expertID models.ExpertID, tok *oauth2.Token) error
}

// OAuthConfig builds the authorization-code-flow configuration the
// Gateway and the connect/callback endpoints share. Returns nil when no
// client id is configured, in which case the Gateway falls back to the
// apiKey credential (dev-only; a flat key cannot read a private
// calendar).
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if clientID == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{calendarv3.CalendarEventsScope, calendarv3.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// Gateway is the Calendar Gateway. It never reads the system clock for
// scheduling decisions (the Availability Engine owns "now"); it only
// uses time.Now internally to drive the connectivity-probe cache TTL.
type Gateway struct {
	oauthConfig *oauth2.Config
	tokens      TokenStore
	apiKey      string
	limiter     *rate.Limiter

	mu         sync.Mutex
	probeCache map[models.ExpertID]probeResult
	probeTTL   time.Duration

	// fetch is the provider call seam behind BusyIntervals; nil means the
	// real FreeBusy query. Tests substitute a fake to exercise the retry
	// path without a network.
	fetch func(ctx context.Context, expertID models.ExpertID, tok *oauth2.Token, from, to time.Time) ([]models.CalendarBusyInterval, error)
}

type probeResult struct {
	ok        bool
	expiresAt time.Time
}

// New builds a Gateway. oauthConfig may be nil when the deployment relies
// purely on a service-account apiKey flow; at least one of the two must
// be usable per Expert.
func New(oauthConfig *oauth2.Config, tokens TokenStore, apiKey string) *Gateway {
	return &Gateway{
		oauthConfig: oauthConfig,
		tokens:      tokens,
		apiKey:      apiKey,
		limiter:     rate.NewLimiter(rate.Every(time.Second/5), 5),
		probeCache:  make(map[models.ExpertID]probeResult),
		probeTTL:    2 * time.Minute,
	}
}

// AuthCodeURL starts the authorization-code flow for expertID: the
// returned URL sends the Expert to the provider's consent screen. The
// expert id rides in the state parameter so the callback can route the
// code back to the right TokenStore entry; offline access is requested
// so the provider issues a refresh token.
func (g *Gateway) AuthCodeURL(expertID models.ExpertID) (string, error) {
	if g.oauthConfig == nil {
		return "", apperr.New(apperr.Internal, "calendar oauth is not configured")
	}
	return g.oauthConfig.AuthCodeURL(string(expertID),
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// Exchange completes the authorization-code flow: trades code for a
// token, persists it for expertID, and drops any cached negative probe
// so the connection is usable immediately.
func (g *Gateway) Exchange(ctx context.Context, expertID models.ExpertID, code string) error {
	if g.oauthConfig == nil {
		return apperr.New(apperr.Internal, "calendar oauth is not configured")
	}
	tok, err := g.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, "oauth code exchange failed", err)
	}
	if err := g.tokens.Save(ctx, expertID, tok); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to persist calendar token", err)
	}
	g.mu.Lock()
	delete(g.probeCache, expertID)
	g.mu.Unlock()
	return nil
}

// HasValidTokens reports whether expertID has a usable calendar
// connection: a stored token that is unexpired or carries a refresh
// token. Positive results are cached for probeTTL so the
// Availability Engine can call this on every request without hammering
// the token store; negative results are never cached, since a just-fixed
// connection should be picked up immediately.
func (g *Gateway) HasValidTokens(ctx context.Context, expertID models.ExpertID) bool {
	g.mu.Lock()
	if cached, ok := g.probeCache[expertID]; ok && time.Now().Before(cached.expiresAt) {
		g.mu.Unlock()
		return cached.ok
	}
	g.mu.Unlock()

	tok, err := g.tokens.Load(ctx, expertID)
	// A token with a refresh token stays usable past its access-token
	// expiry; the oauth2 transport refreshes it transparently.
	ok := err == nil && tok != nil && (tok.Valid() || tok.RefreshToken != "")
	if ok {
		g.mu.Lock()
		g.probeCache[expertID] = probeResult{ok: true, expiresAt: time.Now().Add(g.probeTTL)}
		g.mu.Unlock()
	}
	return ok
}

// busyRetryBase seeds the jittered exponential backoff between retries
// of a rate-limited or transiently failing fetch; package-level so tests
// can shrink it.
var busyRetryBase = 250 * time.Millisecond

// withJitter spreads a backoff delay by up to +50% so concurrent workers
// retrying against the same provider don't re-collide on the same tick.
func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}

// BusyIntervals fetches the Expert's busy spans within [from, to) from
// their connected calendar. Returns apperr-classified errors so callers
// can distinguish "no calendar connected" from "provider is down right
// now" from "rate limited".
func (g *Gateway) BusyIntervals(ctx context.Context, expertID models.ExpertID, from, to time.Time) ([]models.CalendarBusyInterval, error) {
	if !g.HasValidTokens(ctx, expertID) {
		return nil, apperr.New(apperr.Unauthorized, "calendar not connected")
	}

	tok, err := g.tokens.Load(ctx, expertID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "calendar token unavailable", err)
	}

	fetch := g.fetch
	if fetch == nil {
		fetch = g.fetchBusy
	}

	var lastErr error
	backoff := busyRetryBase
	for attempt := 0; attempt < 3; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, apperr.Wrap(apperr.Deadline, "rate limiter wait interrupted", err)
		}
		intervals, err := fetch(ctx, expertID, tok, from, to)
		if err == nil {
			return intervals, nil
		}
		lastErr = err
		if !apperr.Retryable(err) {
			return nil, err
		}
		select {
		case <-time.After(withJitter(backoff)):
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.Deadline, "context done while retrying calendar fetch", ctx.Err())
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (g *Gateway) fetchBusy(ctx context.Context, expertID models.ExpertID, tok *oauth2.Token, from, to time.Time) ([]models.CalendarBusyInterval, error) {
	svc, err := g.newService(ctx, expertID, tok)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	req := &calendarv3.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*calendarv3.FreeBusyRequestItem{{Id: "primary"}},
	}
	resp, err := svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, classifyProviderError(err)
	}

	cal, ok := resp.Calendars["primary"]
	if !ok {
		return nil, apperr.New(apperr.UpstreamUnavailable, "calendar provider returned no primary calendar")
	}

	out := make([]models.CalendarBusyInterval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		start, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			continue
		}
		out = append(out, models.CalendarBusyInterval{StartInstant: start, EndInstant: end})
	}
	return out, nil
}

// CreateEvent places a confirmed Meeting on the Expert's external calendar
// and returns the provider's event id, persisted on the Meeting as
// ExternalCalendarEntryID so a later cancellation can remove it.
func (g *Gateway) CreateEvent(ctx context.Context, expertID models.ExpertID, summary string, start, end time.Time) (string, error) {
	if !g.HasValidTokens(ctx, expertID) {
		return "", apperr.New(apperr.Unauthorized, "calendar not connected")
	}
	tok, err := g.tokens.Load(ctx, expertID)
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthorized, "calendar token unavailable", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", apperr.Wrap(apperr.Deadline, "rate limiter wait interrupted", err)
	}

	svc, err := g.newService(ctx, expertID, tok)
	if err != nil {
		return "", classifyProviderError(err)
	}
	ev := &calendarv3.Event{
		Summary: summary,
		Start:   &calendarv3.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &calendarv3.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	created, err := svc.Events.Insert("primary", ev).Context(ctx).Do()
	if err != nil {
		return "", classifyProviderError(err)
	}
	return created.Id, nil
}

// RemoveEvent deletes a previously created calendar entry. A missing
// entry (already deleted, or the Expert disconnected their calendar
// since) is treated as success — this is best-effort bookkeeping, not a
// source of truth.
func (g *Gateway) RemoveEvent(ctx context.Context, expertID models.ExpertID, externalID string) error {
	if externalID == "" {
		return nil
	}
	if !g.HasValidTokens(ctx, expertID) {
		return nil
	}
	tok, err := g.tokens.Load(ctx, expertID)
	if err != nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.Deadline, "rate limiter wait interrupted", err)
	}

	svc, err := g.newService(ctx, expertID, tok)
	if err != nil {
		return classifyProviderError(err)
	}
	if err := svc.Events.Delete("primary", externalID).Context(ctx).Do(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 404 {
			return nil
		}
		return classifyProviderError(err)
	}
	return nil
}

func (g *Gateway) newService(ctx context.Context, expertID models.ExpertID, tok *oauth2.Token) (*calendarv3.Service, error) {
	var opts []option.ClientOption
	if g.oauthConfig != nil {
		src := g.oauthConfig.TokenSource(ctx, tok)
		opts = append(opts, option.WithTokenSource(&persistingTokenSource{
			ctx:      ctx,
			expertID: expertID,
			store:    g.tokens,
			src:      src,
			last:     tok,
		}))
	} else {
		opts = append(opts, option.WithAPIKey(g.apiKey))
	}
	return calendarv3.NewService(ctx, opts...)
}

// persistingTokenSource writes refreshed access tokens back to the
// TokenStore so the next process start doesn't begin with a stale one.
// Persistence failures are swallowed: the refreshed token is still valid
// for this call, and the store will be retried on the next refresh.
type persistingTokenSource struct {
	ctx      context.Context
	expertID models.ExpertID
	store    TokenStore
	src      oauth2.TokenSource
	last     *oauth2.Token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if p.last == nil || tok.AccessToken != p.last.AccessToken {
		_ = p.store.Save(p.ctx, p.expertID, tok)
		p.last = tok
	}
	return tok, nil
}

func classifyProviderError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 401, 403:
			return apperr.Wrap(apperr.Unauthorized, "calendar token expired or revoked", err)
		case 429:
			return apperr.Wrap(apperr.UpstreamRateLimited, "calendar provider rate limited", err)
		case 500, 502, 503, 504:
			return apperr.Wrap(apperr.UpstreamUnavailable, "calendar provider unavailable", err)
		}
	}
	return apperr.Wrap(apperr.UpstreamUnavailable, fmt.Sprintf("calendar fetch failed: %v", err), err)
}
