// Copyright 2024 Netflexity, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package anypoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	tokenPath = "/accounts/api/v2/oauth2/token"
	loginPath = "/accounts/login"

	// defaultTokenTTL applies when the upstream omits expires_in.
	defaultTokenTTL = time.Hour
)

// AuthOpts selects and parameterizes one of the two supported authentication
// modes. Exactly one of the credential pairs must be set.
type AuthOpts struct {
	BaseURL string

	// Client-credentials exchange.
	ClientID     string
	ClientSecret string

	// Username/password login.
	Username string
	Password string

	Timeout    time.Duration
	MaxRetries int
}

// Validate checks that exactly one authentication mode is configured.
func (o *AuthOpts) Validate() error {
	hasClient := o.ClientID != "" && o.ClientSecret != ""
	hasLogin := o.Username != "" && o.Password != ""
	switch {
	case hasClient && hasLogin:
		return errors.New("auth: clientId/clientSecret and username/password are mutually exclusive")
	case !hasClient && !hasLogin:
		return errors.New("auth: either clientId/clientSecret or username/password must be set")
	}
	return nil
}

// TokenCache memoizes a single credential and refreshes it before expiry.
// Concurrent callers during a refresh observe exactly one upstream
// authentication call.
type TokenCache struct {
	logger log.Logger
	opts   AuthOpts
	client *http.Client
	now    func() time.Time

	slot  atomic.Pointer[Credential]
	group singleflight.Group

	mu          sync.Mutex
	lastSuccess time.Time
	lastErr     error
}

// NewTokenCache returns an empty cache for the given authentication options.
func NewTokenCache(logger log.Logger, opts AuthOpts) (*TokenCache, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = opts.Timeout
	return &TokenCache{
		logger: logger,
		opts:   opts,
		client: client,
		now:    time.Now,
	}, nil
}

// Token returns a valid credential, refreshing it when the cached one is
// absent or inside the expiry safety margin.
func (tc *TokenCache) Token(ctx context.Context) (*Credential, error) {
	if cred := tc.slot.Load(); cred.Valid(tc.now()) {
		return cred, nil
	}

	v, err, _ := tc.group.Do("token", func() (interface{}, error) {
		// A concurrent caller may have refreshed while this one queued.
		if cred := tc.slot.Load(); cred.Valid(tc.now()) {
			return cred, nil
		}
		cred, err := tc.authenticate(ctx)
		tc.mu.Lock()
		tc.lastErr = err
		if err == nil {
			tc.lastSuccess = tc.now()
		}
		tc.mu.Unlock()
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				tc.slot.Store(nil)
			}
			return nil, err
		}
		tc.slot.Store(cred)
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

// Status reports the instant of the last successful authentication and the
// outcome of the most recent attempt.
func (tc *TokenCache) Status() (lastSuccess time.Time, lastErr error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.lastSuccess, tc.lastErr
}

func (tc *TokenCache) authenticate(ctx context.Context) (*Credential, error) {
	var (
		cred *Credential
		mode = "client_credentials"
	)
	if tc.opts.Username != "" {
		mode = "login"
	}

	op := func() error {
		var err error
		if mode == "login" {
			cred, err = tc.login(ctx)
		} else {
			cred, err = tc.exchangeClientCredentials(ctx)
		}
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBackoffBase
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(tc.opts.MaxRetries-1)), ctx))
	if err != nil {
		_ = level.Warn(tc.logger).Log("msg", "authentication failed", "mode", mode, "err", err)
		return nil, err
	}
	_ = level.Debug(tc.logger).Log("msg", "obtained credential", "mode", mode, "ttl", cred.ExpiresIn)
	return cred, nil
}

// exchangeClientCredentials performs the OAuth2 client-credentials grant.
func (tc *TokenCache) exchangeClientCredentials(ctx context.Context) (*Credential, error) {
	cfg := clientcredentials.Config{
		ClientID:     tc.opts.ClientID,
		ClientSecret: tc.opts.ClientSecret,
		TokenURL:     strings.TrimSuffix(tc.opts.BaseURL, "/") + tokenPath,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, tc.client)
	tok, err := cfg.Token(ctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			if code := rerr.Response.StatusCode; code >= 400 && code < 500 && code != http.StatusTooManyRequests {
				return nil, fmt.Errorf("%w: %s", ErrAuthFailed, rerr.Error())
			}
			return nil, &StatusError{Code: rerr.Response.StatusCode}
		}
		return nil, err
	}
	now := tc.now()
	ttl := tok.Expiry.Sub(now)
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Credential{
		AccessToken: tok.AccessToken,
		TokenType:   tokenType,
		IssuedAt:    now,
		ExpiresIn:   ttl,
	}, nil
}

// login performs the username/password exchange.
func (tc *TokenCache) login(ctx context.Context) (*Credential, error) {
	payload, err := json.Marshal(map[string]string{
		"username": tc.opts.Username,
		"password": tc.opts.Password,
	})
	if err != nil {
		return nil, err
	}
	u := strings.TrimSuffix(tc.opts.BaseURL, "/") + loginPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: login rejected with status %d", ErrAuthFailed, resp.StatusCode)
	default:
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response carried no access token", ErrAuthFailed)
	}
	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	tokenType := body.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Credential{
		AccessToken: body.AccessToken,
		TokenType:   tokenType,
		IssuedAt:    tc.now(),
		ExpiresIn:   ttl,
	}, nil
}
