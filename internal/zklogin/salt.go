package zklogin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/EdisonARUI/Membership-MVP-sub000/internal/keystore"
	"github.com/EdisonARUI/Membership-MVP-sub000/pkg/models"
)

// The salt is keyed to the identity's subject claim so repeat logins by the
// same user land on the same derived address.
const saltKeyClaim = "sub"

// SaltFetcher obtains a per-identity salt from the salt service.
type SaltFetcher interface {
	FetchSalt(ctx context.Context, token, keyClaimName string) (string, error)
}

// SaltClient is the HTTP implementation of SaltFetcher.
type SaltClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewSaltClient(endpoint string, timeout time.Duration) *SaltClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SaltClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type saltRequest struct {
	Token        string `json:"token"`
	KeyClaimName string `json:"keyClaimName"`
}

type saltResponse struct {
	Salt string `json:"salt"`
}

type saltErrorEnvelope struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (c *SaltClient) FetchSalt(ctx context.Context, token, keyClaimName string) (string, error) {
	body, err := json.Marshal(saltRequest{Token: token, KeyClaimName: keyClaimName})
	if err != nil {
		return "", fmt.Errorf("%w: encoding request: %v", ErrSaltRetrieval, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaltRetrieval, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaltRetrieval, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrSaltRetrieval, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope saltErrorEnvelope
		if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
			return "", fmt.Errorf("%w: %s (%s)", ErrSaltRetrieval, envelope.Message, envelope.Code)
		}
		return "", fmt.Errorf("%w: http %d", ErrSaltRetrieval, resp.StatusCode)
	}

	var parsed saltResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrSaltRetrieval, err)
	}
	if parsed.Salt == "" {
		return "", fmt.Errorf("%w: service returned no salt", ErrSaltRetrieval)
	}
	return parsed.Salt, nil
}

// SaltResolver returns the cached per-identity salt, fetching it at most once.
// There is deliberately no local fallback value: the salt must never change
// for an identity once an address has been derived from it, and a constant
// default would silently collide addresses across users.
type SaltResolver struct {
	store   *keystore.Store
	fetcher SaltFetcher
	logger  *slog.Logger
}

func NewSaltResolver(store *keystore.Store, fetcher SaltFetcher, logger *slog.Logger) *SaltResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaltResolver{store: store, fetcher: fetcher, logger: logger}
}

func (r *SaltResolver) Resolve(ctx context.Context, token *models.DecodedIDToken) (string, error) {
	if token == nil || token.Raw == "" {
		return "", fmt.Errorf("%w: no identity token", ErrSaltRetrieval)
	}
	if salt := r.store.Salt(); salt != "" {
		issuer, subject := r.store.SaltIdentity()
		switch {
		case issuer == "" && subject == "":
			// Restored from backup before any login; bind it to the first
			// identity that signs in.
			if err := r.store.SetSalt(salt, token.Issuer, token.Subject); err != nil {
				return "", fmt.Errorf("%w: binding restored salt: %v", ErrSaltRetrieval, err)
			}
			return salt, nil
		case issuer == token.Issuer && subject == token.Subject:
			return salt, nil
		default:
			return "", fmt.Errorf("%w: stored salt belongs to another identity; clear the pipeline to sign in as a different user", ErrIdentityMismatch)
		}
	}
	salt, err := r.fetcher.FetchSalt(ctx, token.Raw, saltKeyClaim)
	if err != nil {
		return "", err
	}
	if err := r.store.SetSalt(salt, token.Issuer, token.Subject); err != nil {
		return "", fmt.Errorf("%w: caching salt: %v", ErrSaltRetrieval, err)
	}
	r.logger.Info("user salt resolved", "subject", token.Subject, "issuer", token.Issuer)
	return salt, nil
}
