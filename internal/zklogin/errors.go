package zklogin

import (
	"errors"
	"fmt"
)

var (
	// ErrKeypairCreation covers epoch-read and key-generation failures during
	// Prepare. Callers must not start an OAuth redirect after it.
	ErrKeypairCreation = errors.New("ephemeral keypair creation failed")

	// ErrJWTParsing marks a structurally invalid identity token. Parsing is a
	// local format check only; no stored state changes.
	ErrJWTParsing = errors.New("identity token parsing failed")

	// ErrSaltRetrieval marks a failed or empty salt service response. There is
	// no fallback salt: a predictable salt would make every derived address
	// computable from the public claims.
	ErrSaltRetrieval = errors.New("user salt retrieval failed")

	// ErrProofService is the common unwrap target for *ProofServiceError.
	ErrProofService = errors.New("proof service request failed")

	// ErrAddressDerivation marks malformed inputs to the pure derivation.
	ErrAddressDerivation = errors.New("address derivation failed")

	// ErrSignatureAssembly marks a missing or mismatched signing input. The
	// assembler never substitutes defaults.
	ErrSignatureAssembly = errors.New("signature assembly failed")

	// ErrReauthRequired tells the caller the ephemeral key expired or the
	// nonce no longer matches; the user has to log in again.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrInvalidTransition rejects an operation not allowed in the current
	// pipeline state.
	ErrInvalidTransition = errors.New("operation not allowed in current pipeline state")

	// ErrIdentityMismatch rejects a token whose identity does not match the
	// stored salt. Reusing another identity's salt would derive an address the
	// new user can never reproduce; the caller must Clear first.
	ErrIdentityMismatch = errors.New("token identity does not match stored key material")
)

// ProofErrorKind classifies proving-service failures into the actions the
// caller should take.
type ProofErrorKind int

const (
	// ProofUnavailable is any other non-2xx response or transport failure.
	ProofUnavailable ProofErrorKind = iota
	// ProofRateLimited maps HTTP 429; the caller must back off.
	ProofRateLimited
	// ProofAccessDenied maps HTTP 403.
	ProofAccessDenied
	// ProofMalformedResponse is a 2xx response missing required fields.
	ProofMalformedResponse
)

func (k ProofErrorKind) String() string {
	switch k {
	case ProofRateLimited:
		return "rate_limited"
	case ProofAccessDenied:
		return "access_denied"
	case ProofMalformedResponse:
		return "malformed_response"
	default:
		return "unavailable"
	}
}

// ProofServiceError carries the classification plus the raw status and body
// for diagnostics.
type ProofServiceError struct {
	Kind   ProofErrorKind
	Status int
	Body   string
}

func (e *ProofServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("proof service %s (http %d): %s", e.Kind, e.Status, e.Body)
	}
	return fmt.Sprintf("proof service %s: %s", e.Kind, e.Body)
}

func (e *ProofServiceError) Unwrap() error { return ErrProofService }

// Transient reports whether a caller-driven retry of only the proof step can
// succeed without re-authenticating.
func (e *ProofServiceError) Transient() bool {
	return e.Kind == ProofRateLimited || e.Kind == ProofUnavailable
}
