package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// StartDeviceFlow requests a device code and user code from GitHub and
// transitions the state machine to code_requested. Any previous
// incomplete session is superseded. The returned session carries the
// user code and verification URL to surface to the user.
func (a *Authenticator) StartDeviceFlow(ctx context.Context) (*DeviceFlowSession, error) {
	form := url.Values{
		"client_id": {a.clientID},
		"scope":     {DeviceFlowScope},
	}

	body, status, err := a.postForm(ctx, a.endpoints.DeviceCode, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: device code request returned status %d", ErrProtocol, status)
	}
	if errCode := gjson.GetBytes(body, "error").String(); errCode != "" {
		return nil, fmt.Errorf("%w: device code request failed: %s", ErrProtocol, errCode)
	}

	deviceCode := gjson.GetBytes(body, "device_code").String()
	userCode := gjson.GetBytes(body, "user_code").String()
	verificationURI := gjson.GetBytes(body, "verification_uri").String()
	if deviceCode == "" || userCode == "" {
		return nil, fmt.Errorf("%w: device code response missing codes", ErrProtocol)
	}

	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = 900
	}
	interval := time.Duration(gjson.GetBytes(body, "interval").Int()) * time.Second
	if interval < minPollInterval {
		interval = minPollInterval
	}

	session := &DeviceFlowSession{
		DeviceCode:      deviceCode,
		UserCode:        userCode,
		VerificationURI: verificationURI,
		ExpiresAt:       a.now().Add(time.Duration(expiresIn) * time.Second),
		Interval:        interval,
	}

	a.mu.Lock()
	a.generation++
	a.session = session
	a.state = StateCodeRequested
	a.mu.Unlock()

	log.Debugf("auth: device flow started, user code %s, interval %s", userCode, interval)

	copy := *session
	return &copy, nil
}

// PollForToken polls GitHub at the server-dictated interval until the
// user approves the device code, it expires, or the flow is cancelled.
// onStatus receives StatusWaiting on every pending poll and
// StatusSuccess exactly once on grant; it may be nil.
//
// The absolute expiry is checked before each network call, so an
// already-expired code fails without touching the network. A slow_down
// response grows the interval by 5 seconds for the remainder of the
// session.
func (a *Authenticator) PollForToken(ctx context.Context, onStatus func(Status)) (string, error) {
	a.mu.Lock()
	session := a.session
	gen := a.generation
	if session != nil {
		a.state = StateAwaitingApproval
	}
	a.mu.Unlock()

	if session == nil {
		return "", ErrNoActiveFlow
	}

	interval := session.Interval
	if interval <= 0 {
		interval = minPollInterval
	}

	for {
		if !a.flowCurrent(gen) {
			return "", ErrFlowCancelled
		}
		if a.now().After(session.ExpiresAt) {
			a.finishFlow(gen, StateExpired)
			return "", ErrDeviceCodeExpired
		}

		token, errCode, err := a.pollOnce(ctx, session.DeviceCode)
		if err != nil {
			a.finishFlow(gen, StateFailed)
			return "", err
		}

		switch {
		case token != "":
			a.finishFlow(gen, StateExchanging)
			if onStatus != nil {
				onStatus(StatusSuccess)
			}
			return token, nil
		case errCode == "authorization_pending":
			// Keep waiting.
		case errCode == "slow_down":
			interval += slowDownStep
			log.Debugf("auth: server requested slow down, interval now %s", interval)
		case errCode == "expired_token":
			a.finishFlow(gen, StateExpired)
			return "", ErrDeviceCodeExpired
		case errCode == "access_denied":
			a.finishFlow(gen, StateDenied)
			return "", ErrAccessDenied
		default:
			a.finishFlow(gen, StateFailed)
			return "", fmt.Errorf("%w: token poll failed: %s", ErrProtocol, errCode)
		}

		if onStatus != nil {
			onStatus(StatusWaiting)
		}

		if err := a.wait(ctx, interval); err != nil {
			a.finishFlow(gen, StateCancelled)
			return "", err
		}
	}
}

// pollOnce performs a single token request. It returns the access token
// on grant, the provider error code while pending, or a transport
// error.
func (a *Authenticator) pollOnce(ctx context.Context, deviceCode string) (token, errCode string, err error) {
	form := url.Values{
		"client_id":   {a.clientID},
		"device_code": {deviceCode},
		"grant_type":  {deviceGrantType},
	}

	body, status, err := a.postForm(ctx, a.endpoints.AccessToken, form)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if token := gjson.GetBytes(body, "access_token").String(); token != "" {
		return token, "", nil
	}
	if errCode := gjson.GetBytes(body, "error").String(); errCode != "" {
		return "", errCode, nil
	}
	return "", "", fmt.Errorf("%w: token poll returned status %d with neither token nor error", ErrProtocol, status)
}

// flowCurrent reports whether the poll loop's session is still the
// active one; Cancel and StartDeviceFlow both bump the generation.
func (a *Authenticator) flowCurrent(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation == gen && a.session != nil
}

// finishFlow consumes the session and records the terminal state, but
// only if the flow has not been superseded in the meantime.
func (a *Authenticator) finishFlow(gen uint64, terminal State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen {
		return
	}
	a.session = nil
	a.state = terminal
}

func (a *Authenticator) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
