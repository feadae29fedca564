// Package refpilot documents the repository layout of the refpilot CLI,
// a client for GitHub Copilot and local model servers.
//
// # GitHub Copilot Integration
//
// Sign-in uses the OAuth device authorization flow:
//
//  1. Device Code: https://github.com/login/device/code
//     Returns a user code to enter at the verification URI.
//
//  2. Access Token: https://github.com/login/oauth/access_token
//     Polled (never faster than every 5 seconds) until the user approves.
//
//  3. Session Token: https://api.github.com/copilot_internal/v2/token
//     Exchanges the GitHub access token for a short-lived Copilot
//     session token, refreshed on demand with a 5-minute buffer
//     before expiry.
//
// The session token format is
// tid=token_id;exp=expiration_timestamp;sku=subscription_type;...
// followed by feature flags; the exp field is used as an expiry
// fallback when the exchange response carries none.
//
// Completions go to https://api.githubcopilot.com/chat/completions and
// require editor identification headers (Editor-Version,
// Editor-Plugin-Version, Copilot-Integration-Id) plus a per-request
// X-Request-ID. Responses stream as server-sent events terminated by a
// [DONE] sentinel.
//
// # Local Providers
//
// Two local server dialects are supported without authentication:
// native Ollama (NDJSON streaming, bare base64 images) and
// OpenAI-compatible servers such as LM Studio (SSE streaming,
// multi-part image_url content).
//
// # Layout
//
//   - cmd/refpilot: the CLI (login, logout, status, models, chat)
//   - internal/auth: device flow, session token exchange and refresh
//   - internal/catalog: model catalog with TTL cache and fallbacks
//   - internal/chat: streaming completion client for the remote provider
//   - internal/local: Ollama and OpenAI-compatible clients
//   - internal/vault: encrypted credential storage
//   - internal/config: YAML configuration with environment overrides
package refpilot
