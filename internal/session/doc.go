// Package session manages the OAuth session shared by every cloud call.
//
// The Anthem cloud authenticates users through Azure AD B2C using the
// Resource Owner Password Credential (ROPC) grant. A Manager holds the
// static Credentials, obtains an access token on first use, and keeps it
// valid for all callers:
//
//   - A token is never handed out within the expiry margin (5 minutes by
//     default) of its expiry.
//   - Refreshes are single-flight: any number of concurrent EnsureToken
//     callers that find the token stale share one token-endpoint request.
//   - The refresh_token grant is tried first; if the identity provider
//     rejects it the Manager falls back to a full password grant.
//   - Network failures and 5xx responses are retried with capped
//     exponential backoff and surface as ErrTransientAuth. Credential
//     rejections surface immediately as ErrAuthentication.
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use.
//
// # Usage
//
//	mgr, err := session.New(creds, session.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	tok, err := mgr.EnsureToken(ctx)
//	if err != nil {
//	    return err
//	}
//	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
//
// Secrets (password, access/refresh tokens) are never logged.
package session
