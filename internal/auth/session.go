package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"refpilot/internal/vault"
	"refpilot/pkg/models"
)

// Result is the aggregate outcome of a completed Authenticate run.
type Result struct {
	AccessToken string
	Session     SessionToken
	User        *models.User
}

// Authenticate runs the full connect sequence: start the device flow,
// surface the user code through onShowCode, poll for approval, exchange
// the access token for a session token, fetch the account identity, and
// persist both tokens. This is the entry point collaborators should
// call; the individual steps exist for the orchestration and for
// UI-driven retry.
func (a *Authenticator) Authenticate(ctx context.Context, onShowCode func(userCode, verificationURI string), onStatus func(Status)) (*Result, error) {
	session, err := a.StartDeviceFlow(ctx)
	if err != nil {
		return nil, err
	}
	if onShowCode != nil {
		onShowCode(session.UserCode, session.VerificationURI)
	}

	accessToken, err := a.PollForToken(ctx, onStatus)
	if err != nil {
		return nil, err
	}

	sessionToken, err := a.ExchangeSessionToken(ctx, accessToken)
	if err != nil {
		a.setState(StateFailed)
		return nil, err
	}

	user := a.FetchUser(ctx, accessToken)

	a.vault.Store(RealmAccessToken, accessToken, nil)
	a.persistSessionToken(sessionToken)
	a.setState(StateAuthenticated)

	login := ""
	if user != nil {
		login = user.Login
	}
	log.Infof("auth: connected as %q, session token valid until %s", login, sessionToken.ExpiresAt.Format(time.RFC3339))

	return &Result{AccessToken: accessToken, Session: sessionToken, User: user}, nil
}

// ExchangeSessionToken trades the long-lived access token for a
// short-lived Copilot session token. Provider denial reasons map to
// distinct, displayable errors: 401 invalid token, 403 no subscription,
// 404 chat not enabled.
func (a *Authenticator) ExchangeSessionToken(ctx context.Context, accessToken string) (SessionToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoints.SessionToken, nil)
	if err != nil {
		return SessionToken{}, err
	}
	req.Header.Set("Authorization", "token "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return SessionToken{}, ctx.Err()
		}
		return SessionToken{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return SessionToken{}, ErrTokenRejected
	case http.StatusForbidden:
		return SessionToken{}, ErrNoSubscription
	case http.StatusNotFound:
		return SessionToken{}, ErrChatNotEnabled
	default:
		return SessionToken{}, fmt.Errorf("%w: token exchange returned status %d", ErrProtocol, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SessionToken{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	value := gjson.GetBytes(body, "token").String()
	if value == "" {
		return SessionToken{}, fmt.Errorf("%w: token exchange response carried no token", ErrProtocol)
	}

	expiresAt := time.Unix(gjson.GetBytes(body, "expires_at").Int(), 0)
	if expiresAt.Unix() <= 0 {
		// Fall back to the expiry embedded in the token itself
		// (tid=...;exp=<unix>;...), then to a conservative default.
		if exp, ok := tokenExpiry(value); ok {
			expiresAt = exp
		} else {
			log.Warnf("auth: token exchange response carried no expiry, assuming 20 minutes")
			expiresAt = a.now().Add(20 * time.Minute)
		}
	}

	return SessionToken{Value: value, ExpiresAt: expiresAt}, nil
}

// tokenExpiry extracts the exp field from a semicolon-delimited Copilot
// session token.
func tokenExpiry(token string) (time.Time, bool) {
	for _, part := range strings.Split(token, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[0] != "exp" {
			continue
		}
		unix, err := strconv.ParseInt(kv[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(unix, 0), true
	}
	return time.Time{}, false
}

// FetchUser returns the authenticated account for display. Identity is
// cosmetic, so every failure degrades to nil.
func (a *Authenticator) FetchUser(ctx context.Context, accessToken string) *models.User {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoints.User, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "token "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		log.Debugf("auth: user lookup failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debugf("auth: user lookup returned status %d", resp.StatusCode)
		return nil
	}

	var user models.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		log.Debugf("auth: user lookup decode failed: %v", err)
		return nil
	}
	return &user
}

// SessionToken returns a session token valid for at least RefreshBuffer
// more, refreshing proactively when the stored one is closer to expiry.
// If the access token is missing or GitHub rejects it, both stored
// credentials are deleted and ErrReauthRequired is returned; stale
// credentials are never retried silently.
func (a *Authenticator) SessionToken(ctx context.Context) (SessionToken, error) {
	if rec, ok := a.vault.Load(RealmSessionToken); ok {
		if exp, ok := rec.ExpiresAt(); ok && exp.After(a.now().Add(RefreshBuffer)) {
			return SessionToken{Value: rec.Secret, ExpiresAt: exp}, nil
		}
	}

	access, ok := a.vault.Load(RealmAccessToken)
	if !ok {
		a.wipeCredentials()
		return SessionToken{}, ErrReauthRequired
	}

	token, err := a.ExchangeSessionToken(ctx, access.Secret)
	if err != nil {
		if errors.Is(err, ErrTokenRejected) {
			a.wipeCredentials()
			return SessionToken{}, fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		return SessionToken{}, err
	}

	a.persistSessionToken(token)
	log.Debugf("auth: session token refreshed, valid until %s", token.ExpiresAt.Format(time.RFC3339))
	return token, nil
}

func (a *Authenticator) persistSessionToken(token SessionToken) {
	a.vault.Store(RealmSessionToken, token.Value, map[string]string{
		vault.MetaExpiresAt: strconv.FormatInt(token.ExpiresAt.Unix(), 10),
	})
}

func (a *Authenticator) wipeCredentials() {
	a.vault.Delete(RealmSessionToken)
	a.vault.Delete(RealmAccessToken)
}
