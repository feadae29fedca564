// Package auth implements the GitHub device-authorization flow for
// Copilot and the session-token lifecycle built on top of it.
//
// Three credentials are involved: the short-lived device code the user
// approves in a browser, the long-lived OAuth access token it is
// exchanged for, and the short-lived Copilot session token minted from
// the access token before every chat request. The access and session
// tokens are persisted through the credential vault under separate
// realms; the device-flow session only ever lives in memory.
package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"refpilot/internal/vault"
)

const (
	// DeviceCodeURL issues device and user codes.
	DeviceCodeURL = "https://github.com/login/device/code"
	// AccessTokenURL is polled until the user approves the device code.
	AccessTokenURL = "https://github.com/login/oauth/access_token"
	// SessionTokenURL exchanges an access token for a Copilot session token.
	SessionTokenURL = "https://api.github.com/copilot_internal/v2/token"
	// UserURL returns the authenticated account, for display only.
	UserURL = "https://api.github.com/user"

	// DefaultClientID is the OAuth app the device flow authorizes.
	DefaultClientID = "Iv1.b507a08c87ecfe98"
	// DeviceFlowScope is the only scope the flow requests.
	DeviceFlowScope = "read:user"

	// deviceGrantType is the RFC 8628 grant type string sent on every poll.
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// RealmAccessToken is the vault realm of the long-lived OAuth token.
	RealmAccessToken = "github-access-token"
	// RealmSessionToken is the vault realm of the Copilot session token.
	RealmSessionToken = "copilot-session-token"

	// RefreshBuffer is how long before its expiry a session token is
	// already treated as invalid and refreshed.
	RefreshBuffer = 5 * time.Minute

	// minPollInterval is the floor for the server-dictated poll interval.
	minPollInterval = 5 * time.Second
	// slowDownStep is added to the interval on each slow_down response
	// and persists for the rest of the poll session.
	slowDownStep = 5 * time.Second
)

// Typed failures surfaced to collaborators. Each carries copy suitable
// for direct display.
var (
	// ErrProviderUnavailable wraps transport-level failures.
	ErrProviderUnavailable = errors.New("could not reach GitHub")
	// ErrProtocol wraps well-formed but unexpected provider responses.
	ErrProtocol = errors.New("unexpected response from GitHub")
	// ErrNoActiveFlow is returned when polling without a started flow.
	ErrNoActiveFlow = errors.New("no device authorization flow in progress")
	// ErrDeviceCodeExpired means the user did not approve in time.
	ErrDeviceCodeExpired = errors.New("the sign-in code expired; start a new sign-in")
	// ErrAccessDenied means the user declined the authorization request.
	ErrAccessDenied = errors.New("sign-in was denied")
	// ErrFlowCancelled means the flow was cancelled or superseded locally.
	ErrFlowCancelled = errors.New("sign-in was cancelled")
	// ErrTokenRejected means GitHub no longer accepts the access token.
	ErrTokenRejected = errors.New("GitHub rejected the stored access token")
	// ErrNoSubscription means the account has no active Copilot plan.
	ErrNoSubscription = errors.New("this GitHub account has no active Copilot subscription")
	// ErrChatNotEnabled means Copilot chat is disabled for the account.
	ErrChatNotEnabled = errors.New("Copilot chat is not enabled for this account")
	// ErrReauthRequired means stored credentials were wiped and the user
	// must run the device flow again.
	ErrReauthRequired = errors.New("stored credentials are no longer valid; sign in again")
)

// State is the device-flow state machine position.
type State string

const (
	StateIdle             State = "idle"
	StateCodeRequested    State = "code_requested"
	StateAwaitingApproval State = "awaiting_approval"
	StateExchanging       State = "exchanging"
	StateAuthenticated    State = "authenticated"
	StateExpired          State = "expired"
	StateDenied           State = "denied"
	StateCancelled        State = "cancelled"
	StateFailed           State = "failed"
)

// Status is the progress value delivered to poll observers.
type Status string

const (
	// StatusWaiting is reported on each poll that is still pending.
	StatusWaiting Status = "waiting"
	// StatusSuccess is reported once when the grant arrives.
	StatusSuccess Status = "success"
)

// DeviceFlowSession is the ephemeral state of one device authorization
// attempt. It is consumed by PollForToken and never persisted.
type DeviceFlowSession struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	ExpiresAt       time.Time
	Interval        time.Duration
}

// SessionToken is the short-lived credential used on chat requests.
type SessionToken struct {
	Value     string
	ExpiresAt time.Time
}

// Doer is the narrow HTTP capability the authenticator needs,
// substitutable with a fake in tests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Endpoints groups the provider URLs so tests can point the
// authenticator at a local server.
type Endpoints struct {
	DeviceCode   string
	AccessToken  string
	SessionToken string
	User         string
}

// DefaultEndpoints returns the production GitHub endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		DeviceCode:   DeviceCodeURL,
		AccessToken:  AccessTokenURL,
		SessionToken: SessionTokenURL,
		User:         UserURL,
	}
}

// Authenticator drives the device flow and owns the persisted tokens.
// At most one device-flow session is active at a time; starting a new
// flow supersedes any incomplete one.
type Authenticator struct {
	vault     *vault.Vault
	client    Doer
	endpoints Endpoints
	clientID  string
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	state      State
	session    *DeviceFlowSession
	generation uint64
}

// New creates an authenticator persisting through the given vault and
// talking to the production GitHub endpoints.
func New(v *vault.Vault) *Authenticator {
	return &Authenticator{
		vault:     v,
		client:    &http.Client{Timeout: 30 * time.Second},
		endpoints: DefaultEndpoints(),
		clientID:  DefaultClientID,
		now:       time.Now,
		wait:      waitFor,
		state:     StateIdle,
	}
}

// waitFor sleeps for d or until the context is cancelled.
func waitFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State returns the current flow state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Authenticator) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Cancel discards any in-flight device-flow session and returns the
// state machine to idle. A poll loop already running observes the
// cancellation at its next tick and terminates with ErrFlowCancelled.
func (a *Authenticator) Cancel() {
	a.mu.Lock()
	a.generation++
	a.session = nil
	a.state = StateIdle
	a.mu.Unlock()
}

// HasValidSession reports whether a chat request could obtain a session
// token without running the device flow: while the long-lived access
// token is on hand, an expired session token is merely refreshed.
func (a *Authenticator) HasValidSession() bool {
	return a.vault.IsValid(RealmAccessToken, 0)
}

// Disconnect cancels any in-flight flow and deletes both stored
// credentials, forcing a fresh Authenticate before the next chat.
func (a *Authenticator) Disconnect() {
	a.Cancel()
	a.vault.Delete(RealmSessionToken)
	a.vault.Delete(RealmAccessToken)
}
