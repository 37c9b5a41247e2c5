package auth

import (
	"time"

	"github.com/pquerna/otp/totp"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/models"
)

const tokenEndpoint = "/oauth/token"

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

// tokenRequest is the venue token endpoint request body.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	MFACode      string `json:"mfa_code,omitempty"`
}

// tokenResponse is the venue token endpoint response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// toToken converts the wire response into a session token, anchoring the
// expiry to the local clock at receipt time.
func (r tokenResponse) toToken(now time.Time) (models.Token, error) {
	if r.AccessToken == "" {
		return models.Token{}, apperrors.Wrap(apperrors.ErrMalformedResponse, "token response missing access_token")
	}
	expiresIn := r.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return models.Token{
		AccessValue:  r.AccessToken,
		RefreshValue: r.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(expiresIn) * time.Second),
		Scope:        r.Scope,
	}, nil
}

// mfaCode generates the current TOTP code when the credentials carry a
// TOTP secret. Empty secret means no MFA.
func mfaCode(creds models.Credentials) (string, error) {
	if creds.TOTPSecret == "" {
		return "", nil
	}
	code, err := totp.GenerateCode(creds.TOTPSecret, time.Now())
	if err != nil {
		return "", apperrors.Wrap(err, "failed to generate TOTP code")
	}
	return code, nil
}
