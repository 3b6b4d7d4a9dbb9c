package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// DefaultIssuerURL はGoogleのOIDC発行者URL。
const DefaultIssuerURL = "https://accounts.google.com"

// ErrNonceMismatch はIDトークンのnonceがログイン開始時の値と一致しない場合に返される。
var ErrNonceMismatch = errors.New("id token nonce mismatch")

// Claims はIDトークンから取り出したユーザー属性。
type Claims struct {
	Sub     string
	Email   string
	Name    string
	Picture string
}

// IdentityProvider は外部IdPとの認可コードフローを抽象化する。
type IdentityProvider interface {
	// AuthCodeURL はIdPの認可エンドポイントURLを生成する。
	// PKCEのcode_challengeはverifierからS256で導出する。
	AuthCodeURL(state, nonce, verifier string) string
	// Exchange は認可コードをトークンに交換し、IDトークンを検証してClaimsを返す。
	Exchange(ctx context.Context, code, verifier, nonce string) (*Claims, error)
}

// OIDCConfig はOIDCプロバイダーの設定。
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDCProvider はOpenID Connect + PKCEによる認証を提供する。
type OIDCProvider struct {
	oauth2   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider はディスカバリーを実行してOIDCProviderを生成する。
// ctxはJWKSの取得にも使われるため、サーバーの生存期間と同じものを渡すこと。
func NewOIDCProvider(ctx context.Context, config OIDCConfig) (*OIDCProvider, error) {
	if config.IssuerURL == "" {
		config.IssuerURL = DefaultIssuerURL
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}

	return &OIDCProvider{
		oauth2: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: config.ClientID}),
	}, nil
}

// AuthCodeURL はIdPの認可URLを生成する。アカウント選択画面を毎回表示させる。
func (p *OIDCProvider) AuthCodeURL(state, nonce, verifier string) string {
	return p.oauth2.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange は認可コードをトークンに交換し、IDトークンの署名・発行者・audience・nonceを検証する。
func (p *OIDCProvider) Exchange(ctx context.Context, code, verifier, nonce string) (*Claims, error) {
	token, err := p.oauth2.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token claims: %w", err)
	}

	return &Claims{
		Sub:     idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

// compile-time interface check
var _ IdentityProvider = (*OIDCProvider)(nil)
