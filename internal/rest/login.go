package rest

import (
	"context"
	"fmt"
	"sync"
)

// StaticLogin carries a pre-issued access token. It satisfies the websocket
// client's login interface without any HTTP round trip.
type StaticLogin struct {
	Token   string
	Address string
}

func (l StaticLogin) IsLoginSuccess() bool { return l.Token != "" && l.Address != "" }
func (l StaticLogin) AccessToken() string { return l.Token }
func (l StaticLogin) AccountAddress() string { return l.Address }

// SessionLogin obtains an access token from the venue's login endpoint and
// caches it. Call Authenticate before handing it to the websocket client.
type SessionLogin struct {
	client  *Client
	address string
	apiKey  string

	mu    sync.RWMutex
	token string
}

// NewSessionLogin builds a login helper for the given account.
func NewSessionLogin(client *Client, address, apiKey string) *SessionLogin {
	return &SessionLogin{client: client, address: address, apiKey: apiKey}
}

type loginResponse struct {
	Success bool `json:"success"`
	Data    struct {
		AccessToken string `json:"accessToken"`
	} `json:"data"`
}

// Authenticate exchanges the API key for an access token.
func (l *SessionLogin) Authenticate(ctx context.Context) error {
	var out loginResponse
	r, err := l.client.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetBody(map[string]string{"address": l.address, "apiKey": l.apiKey}).
		Post(pathLogin)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if r.IsError() {
		return fmt.Errorf("login: %s", r.Status())
	}
	if !out.Success || out.Data.AccessToken == "" {
		return fmt.Errorf("login: venue rejected credentials")
	}

	l.mu.Lock()
	l.token = out.Data.AccessToken
	l.mu.Unlock()
	l.client.logger.Info("login succeeded", "address", l.address)
	return nil
}

func (l *SessionLogin) IsLoginSuccess() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.token != ""
}

func (l *SessionLogin) AccessToken() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.token
}

func (l *SessionLogin) AccountAddress() string { return l.address }
