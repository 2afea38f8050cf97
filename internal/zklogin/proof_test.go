package zklogin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const completeProofBody = `{
	"proofPoints": {"a": ["1","2","3"], "b": [["4","5"],["6","7"]], "c": ["8","9"]},
	"issBase64Details": {"value": "aXNz", "indexMod4": 2},
	"headerBase64": "aGVhZGVy"
}`

func newProofClient(t *testing.T, handler http.HandlerFunc) (*ProofClient, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	return NewProofClient(srv.URL, "devnet", time.Second, nil), srv.Close
}

func TestRequestProofSuccess(t *testing.T) {
	client, done := newProofClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		for _, field := range []string{"jwt", "ephemeralPublicKey", "userSalt", "maxEpoch", "jwtRandomness", "networkType"} {
			if _, ok := req[field]; !ok {
				t.Errorf("request missing field %q", field)
			}
		}
		w.Write([]byte(completeProofBody))
	})
	defer done()

	proof, err := client.RequestProof(context.Background(), "raw.jwt.token", []byte{1, 2}, "salt", []byte{3, 4}, 12)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if proof.HeaderBase64 != "aGVhZGVy" || len(proof.ProofPoints.A) != 3 {
		t.Fatalf("unexpected proof: %+v", proof)
	}
	if proof.MaxEpoch != 12 {
		t.Fatalf("proof must carry the requested epoch bound, got %d", proof.MaxEpoch)
	}
}

func TestRequestProofIncompleteBodyIsMalformed(t *testing.T) {
	client, done := newProofClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"headerBase64": "aGVhZGVy"}`))
	})
	defer done()

	_, err := client.RequestProof(context.Background(), "raw.jwt.token", []byte{1}, "salt", []byte{2}, 12)
	var proofErr *ProofServiceError
	if !errors.As(err, &proofErr) || proofErr.Kind != ProofMalformedResponse {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestRequestProofRateLimited(t *testing.T) {
	client, done := newProofClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	})
	defer done()

	_, err := client.RequestProof(context.Background(), "raw.jwt.token", []byte{1}, "salt", []byte{2}, 12)
	var proofErr *ProofServiceError
	if !errors.As(err, &proofErr) || proofErr.Kind != ProofRateLimited {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if proofErr.Status != http.StatusTooManyRequests || proofErr.Body != "slow down" {
		t.Fatalf("status and body must be carried verbatim: %+v", proofErr)
	}
	if !proofErr.Transient() {
		t.Fatal("rate limited must be retryable")
	}
}

func TestRequestProofAccessDenied(t *testing.T) {
	client, done := newProofClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	defer done()

	_, err := client.RequestProof(context.Background(), "raw.jwt.token", []byte{1}, "salt", []byte{2}, 12)
	var proofErr *ProofServiceError
	if !errors.As(err, &proofErr) || proofErr.Kind != ProofAccessDenied {
		t.Fatalf("expected access denied, got %v", err)
	}
	if proofErr.Transient() {
		t.Fatal("access denied is not retryable")
	}
}

func TestRequestProofServerErrorIsUnavailable(t *testing.T) {
	client, done := newProofClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("prover exploded"))
	})
	defer done()

	_, err := client.RequestProof(context.Background(), "raw.jwt.token", []byte{1}, "salt", []byte{2}, 12)
	var proofErr *ProofServiceError
	if !errors.As(err, &proofErr) || proofErr.Kind != ProofUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if proofErr.Body != "prover exploded" {
		t.Fatalf("raw body must be preserved for diagnostics: %q", proofErr.Body)
	}
}

func TestRequestProofNetworkFailureIsUnavailable(t *testing.T) {
	client := NewProofClient("http://127.0.0.1:1", "devnet", 200*time.Millisecond, nil)
	_, err := client.RequestProof(context.Background(), "raw.jwt.token", []byte{1}, "salt", []byte{2}, 12)
	var proofErr *ProofServiceError
	if !errors.As(err, &proofErr) || proofErr.Kind != ProofUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if !errors.Is(err, ErrProofService) {
		t.Fatal("proof errors must unwrap to ErrProofService")
	}
}
