package emporia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"
	"github.com/berfenger/surpluscharge/internal/external"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// Emporia's user pool lives in us-east-2
	COGNITO_REGION = "us-east-2"
	// tokens are renewed this long before they expire
	tokenExpiryMargin = time.Minute
)

// tokenSet is persisted to the token file so that restarts do not need the
// account password.
type tokenSet struct {
	IdToken      string    `json:"id_token"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Username     string    `json:"username,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

func (t *tokenSet) complete() bool {
	return t != nil && t.IdToken != "" && t.AccessToken != "" && t.RefreshToken != ""
}

// Authenticator obtains and renews Cognito user pool tokens for the Emporia
// cloud API. Retries are left to the shared external client.
type Authenticator struct {
	cfg     config.EmporiaConfig
	cognito *cognitoidentityprovider.Client
	clock   clock.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	tokens *tokenSet
}

func NewAuthenticator(cfg config.EmporiaConfig, client *external.BaseClient, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		cfg: cfg,
		cognito: cognitoidentityprovider.New(cognitoidentityprovider.Options{
			Region:       COGNITO_REGION,
			BaseEndpoint: aws.String(cfg.AuthURL),
			Credentials:  aws.AnonymousCredentials{},
			HTTPClient:   client,
			Retryer:      aws.NopRetryer{},
		}),
		clock:  clock.New(),
		logger: logger,
	}
}

// IdToken returns a valid id token, logging in or refreshing when needed.
func (a *Authenticator) IdToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tokens == nil {
		a.tokens = a.loadTokenFile()
	}
	switch {
	case !a.tokens.complete():
		if err := a.login(ctx); err != nil {
			return "", err
		}
	case !a.tokens.ExpiresAt.IsZero() && a.clock.Now().Add(tokenExpiryMargin).After(a.tokens.ExpiresAt):
		if err := a.refreshOrLogin(ctx); err != nil {
			return "", err
		}
	}
	return a.tokens.IdToken, nil
}

// Invalidate forces a token refresh, used after the API answered 401.
func (a *Authenticator) Invalidate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.tokens.complete() {
		return a.login(ctx)
	}
	return a.refreshOrLogin(ctx)
}

func (a *Authenticator) refreshOrLogin(ctx context.Context) error {
	err := a.initiateAuth(ctx, types.AuthFlowTypeRefreshTokenAuth, map[string]string{
		"REFRESH_TOKEN": a.tokens.RefreshToken,
	})
	if err == nil {
		return nil
	}
	a.logger.Warn("emporia: token refresh failed", zap.Error(err))
	if a.cfg.Username == "" || a.cfg.Password == "" {
		return err
	}
	return a.login(ctx)
}

func (a *Authenticator) login(ctx context.Context) error {
	if a.cfg.Username == "" || a.cfg.Password == "" {
		return fmt.Errorf("%w: no stored tokens and no credentials", domain.ErrChargerUnauthenticated)
	}
	a.logger.Info("emporia: logging in", zap.String("username", a.cfg.Username))
	return a.initiateAuth(ctx, types.AuthFlowTypeUserPasswordAuth, map[string]string{
		"USERNAME": a.cfg.Username,
		"PASSWORD": a.cfg.Password,
	})
}

func (a *Authenticator) initiateAuth(ctx context.Context, flow types.AuthFlowType, params map[string]string) error {
	out, err := a.cognito.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       flow,
		ClientId:       aws.String(a.cfg.ClientId),
		AuthParameters: params,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: %w", domain.ErrChargerUnauthenticated, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrChargerUnreachable, err)
	}

	result := out.AuthenticationResult
	if result == nil || aws.ToString(result.IdToken) == "" {
		return fmt.Errorf("%w: empty authentication result", domain.ErrChargerUnauthenticated)
	}

	tokens := &tokenSet{
		IdToken:      aws.ToString(result.IdToken),
		AccessToken:  aws.ToString(result.AccessToken),
		RefreshToken: aws.ToString(result.RefreshToken),
		Username:     a.cfg.Username,
	}
	// refresh responses do not carry a new refresh token
	if tokens.RefreshToken == "" && a.tokens != nil {
		tokens.RefreshToken = a.tokens.RefreshToken
	}
	if result.ExpiresIn > 0 {
		tokens.ExpiresAt = a.clock.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	a.tokens = tokens

	if err := a.saveTokenFile(); err != nil {
		a.logger.Warn("emporia: could not store tokens", zap.String("file", a.cfg.TokenFile), zap.Error(err))
	}
	return nil
}

func (a *Authenticator) loadTokenFile() *tokenSet {
	if a.cfg.TokenFile == "" {
		return &tokenSet{}
	}
	data, err := os.ReadFile(a.cfg.TokenFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("emporia: could not read token file", zap.String("file", a.cfg.TokenFile), zap.Error(err))
		}
		return &tokenSet{}
	}
	var tokens tokenSet
	if err := json.Unmarshal(data, &tokens); err != nil {
		a.logger.Warn("emporia: ignoring malformed token file", zap.String("file", a.cfg.TokenFile), zap.Error(err))
		return &tokenSet{}
	}
	return &tokens
}

func (a *Authenticator) saveTokenFile() error {
	if a.cfg.TokenFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(a.tokens, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.cfg.TokenFile, data, 0o600)
}
