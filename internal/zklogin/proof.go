package zklogin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/EdisonARUI/Membership-MVP-sub000/pkg/models"
)

// ProofRequester obtains a zero-knowledge proof binding an identity token to
// an ephemeral public key.
type ProofRequester interface {
	RequestProof(ctx context.Context, token string, ephemeralPublicKey []byte, salt string, randomness []byte, maxEpoch uint64) (*models.PartialProof, error)
}

// ProofClient calls the external proving service. It performs no retries:
// failures are classified and surfaced so the caller can decide whether to
// back off, re-authenticate or give up.
type ProofClient struct {
	endpoint   string
	network    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewProofClient(endpoint, network string, timeout time.Duration, logger *slog.Logger) *ProofClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProofClient{
		endpoint:   endpoint,
		network:    network,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type proofRequest struct {
	JWT                string `json:"jwt"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	UserSalt           string `json:"userSalt"`
	MaxEpoch           uint64 `json:"maxEpoch"`
	JWTRandomness      string `json:"jwtRandomness"`
	NetworkType        string `json:"networkType"`
}

type proofResponse struct {
	ProofPoints      models.ProofPoints      `json:"proofPoints"`
	IssBase64Details models.IssBase64Details `json:"issBase64Details"`
	HeaderBase64     string                  `json:"headerBase64"`
}

func (c *ProofClient) RequestProof(ctx context.Context, token string, ephemeralPublicKey []byte, salt string, randomness []byte, maxEpoch uint64) (*models.PartialProof, error) {
	payload, err := json.Marshal(proofRequest{
		JWT:                token,
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(ephemeralPublicKey),
		UserSalt:           salt,
		MaxEpoch:           maxEpoch,
		JWTRandomness:      base64.StdEncoding.EncodeToString(randomness),
		NetworkType:        c.network,
	})
	if err != nil {
		return nil, &ProofServiceError{Kind: ProofUnavailable, Body: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProofServiceError{Kind: ProofUnavailable, Body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProofServiceError{Kind: ProofUnavailable, Body: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ProofServiceError{Kind: ProofRateLimited, Status: resp.StatusCode, Body: string(raw)}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &ProofServiceError{Kind: ProofAccessDenied, Status: resp.StatusCode, Body: string(raw)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &ProofServiceError{Kind: ProofUnavailable, Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed proofResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ProofServiceError{Kind: ProofMalformedResponse, Status: resp.StatusCode, Body: err.Error()}
	}
	if !proofComplete(parsed) {
		return nil, &ProofServiceError{Kind: ProofMalformedResponse, Status: resp.StatusCode, Body: "response missing required proof fields"}
	}

	c.logger.Info("zk proof obtained", "max_epoch", maxEpoch, "network", c.network)
	return &models.PartialProof{
		ProofPoints:      parsed.ProofPoints,
		IssBase64Details: parsed.IssBase64Details,
		HeaderBase64:     parsed.HeaderBase64,
		MaxEpoch:         maxEpoch,
	}, nil
}

func proofComplete(p proofResponse) bool {
	return len(p.ProofPoints.A) > 0 &&
		len(p.ProofPoints.B) > 0 &&
		len(p.ProofPoints.C) > 0 &&
		p.IssBase64Details.Value != "" &&
		p.HeaderBase64 != ""
}
