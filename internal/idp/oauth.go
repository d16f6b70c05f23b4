package idp

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/log"
	"golang.org/x/oauth2"
)

// OAuthGateway runs code and refresh-token grants against the token
// endpoint resolved by its Discovery. Client credentials travel in the form
// body, which both Google and the local mock accept.
type OAuthGateway struct {
	clientID     string
	clientSecret string
	discovery    *Discovery
	httpClient   *http.Client
}

func NewOAuthGateway(clientID, clientSecret string, discovery *Discovery, httpClient *http.Client) *OAuthGateway {
	return &OAuthGateway{
		clientID:     clientID,
		clientSecret: clientSecret,
		discovery:    discovery,
		httpClient:   httpClient,
	}
}

func (g *OAuthGateway) config(ctx context.Context, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  g.discovery.TokenEndpoint(ctx),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (g *OAuthGateway) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// ExchangeCode posts an authorization_code grant. Any rejection by the
// server is Unauthorized.
func (g *OAuthGateway) ExchangeCode(ctx context.Context, code, redirectURI string) (*Tokens, error) {
	token, err := g.config(ctx, redirectURI).Exchange(g.clientContext(ctx), code)
	if err != nil {
		return nil, classifyGrantError(err, apperr.KindUnauthorized, "code exchange rejected")
	}

	tokens := tokensFrom(token)
	if tokens.RefreshToken == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "authorization server issued no refresh token")
	}
	return tokens, nil
}

// Refresh posts a refresh_token grant. Servers that do not rotate refresh
// tokens get the presented one echoed back.
func (g *OAuthGateway) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	source := g.config(ctx, "").TokenSource(g.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, classifyGrantError(err, apperr.KindInvalidRefreshToken, "invalid refresh token")
	}
	return tokensFrom(token), nil
}

func tokensFrom(token *oauth2.Token) *Tokens {
	idToken, _ := token.Extra("id_token").(string)
	return &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      idToken,
	}
}

// classifyGrantError maps a server rejection to rejected and transport
// failures to Timeout or Server
func classifyGrantError(err error, rejected apperr.Kind, message string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		fields := map[string]any{"error_code": retrieveErr.ErrorCode}
		if retrieveErr.Response != nil {
			fields["status"] = retrieveErr.Response.StatusCode
		}
		log.LogWarnWithFields("idp", "Token grant rejected", fields)
		return apperr.Wrap(rejected, message, err)
	}
	if isTimeout(err) {
		return apperr.Wrap(apperr.KindTimeout, "authorization server timeout", err)
	}
	return apperr.Wrap(apperr.KindServer, "authorization server unavailable", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
