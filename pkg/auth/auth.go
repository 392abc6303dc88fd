// SPDX-License-Identifier: Apache-2.0

// Package auth acquires credentials for authentication policies and
// attaches them to outbound calls.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/manifest"
)

// Credential is an acquired secret ready to be attached to a request.
type Credential struct {
	header string
	value  string
}

// Apply attaches the credential to an outbound request.
func (c Credential) Apply(req *http.Request) {
	if c.header != "" {
		req.Header.Set(c.header, c.value)
	}
}

// Empty reports whether the credential carries nothing.
func (c Credential) Empty() bool { return c.header == "" }

// Acquirer resolves authentication policies into credentials.
type Acquirer struct {
	httpClient *http.Client
}

// NewAcquirer creates an Acquirer. A nil client gets a sane default.
func NewAcquirer(client *http.Client) *Acquirer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Acquirer{httpClient: client}
}

// Acquire produces a credential for the given policy.
func (a *Acquirer) Acquire(ctx context.Context, policy *manifest.AuthDef) (Credential, error) {
	if policy == nil {
		return Credential{}, nil
	}
	switch policy.Kind {
	case "apikey":
		header := policy.Header
		if header == "" {
			header = "X-Api-Key"
		}
		if policy.Key == "" {
			return Credential{}, errors.Newf(errors.CodeMissingProperty, "auth/%s: apikey policy requires a key", policy.Name)
		}
		return Credential{header: header, value: policy.Key}, nil

	case "bearer":
		if policy.Token == "" {
			return Credential{}, errors.Newf(errors.CodeMissingProperty, "auth/%s: bearer policy requires a token", policy.Name)
		}
		return Credential{header: "Authorization", value: "Bearer " + policy.Token}, nil

	case "basic":
		if policy.Username == "" {
			return Credential{}, errors.Newf(errors.CodeMissingProperty, "auth/%s: basic policy requires a username", policy.Name)
		}
		raw := policy.Username + ":" + policy.Password
		return Credential{
			header: "Authorization",
			value:  "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)),
		}, nil

	case "oauth2":
		return a.clientCredentials(ctx, policy)

	default:
		return Credential{}, errors.Newf(errors.CodeMissingProperty, "auth/%s: unknown policy kind %q", policy.Name, policy.Kind)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// clientCredentials performs a single OAuth2 client-credentials grant.
// Token caching and refresh are the caller's concern.
func (a *Acquirer) clientCredentials(ctx context.Context, policy *manifest.AuthDef) (Credential, error) {
	if policy.TokenURL == "" || policy.ClientID == "" {
		return Credential{}, errors.Newf(errors.CodeMissingProperty,
			"auth/%s: oauth2 policy requires tokenURL and clientID", policy.Name)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", policy.ClientID)
	form.Set("client_secret", policy.ClientSecret)
	if len(policy.Scopes) > 0 {
		form.Set("scope", strings.Join(policy.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, policy.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, errors.New(errors.CodeUnauthorized, "cannot build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Credential{}, errors.New(errors.CodeUnauthorized, "token endpoint unreachable", err).
			WithContext("policy", policy.Name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credential{}, errors.Newf(errors.CodeUnauthorized, "token endpoint returned %s", resp.Status).
			WithContext("policy", policy.Name)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return Credential{}, errors.New(errors.CodeUnauthorized, "token response is not valid json", err)
	}
	if token.AccessToken == "" {
		return Credential{}, errors.Newf(errors.CodeUnauthorized, "token endpoint returned no access_token")
	}

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return Credential{header: "Authorization", value: tokenType + " " + token.AccessToken}, nil
}
