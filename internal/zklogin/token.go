package zklogin

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/EdisonARUI/Membership-MVP-sub000/pkg/models"
)

// ParseIDToken decodes the identity token returned by the OAuth callback.
// This is a structural check only: three dot-separated base64url segments and
// non-empty subject, issuer and audience claims. Cryptographic verification
// happens indirectly through the proof service, which validates the token
// against the issuer's published keys.
func ParseIDToken(raw string) (*models.DecodedIDToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrJWTParsing)
	}
	if strings.Count(raw, ".") != 2 {
		return nil, fmt.Errorf("%w: expected 3 dot-separated segments", ErrJWTParsing)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWTParsing, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrJWTParsing)
	}
	issuer, err := claims.GetIssuer()
	if err != nil || issuer == "" {
		return nil, fmt.Errorf("%w: missing issuer claim", ErrJWTParsing)
	}
	audiences, err := claims.GetAudience()
	if err != nil || len(audiences) == 0 || audiences[0] == "" {
		return nil, fmt.Errorf("%w: missing audience claim", ErrJWTParsing)
	}

	token := &models.DecodedIDToken{
		Raw:      raw,
		Issuer:   issuer,
		Subject:  subject,
		Audience: audiences[0],
		Claims:   map[string]any(claims),
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		token.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		token.ExpiresAt = exp.Time
	}
	return token, nil
}
