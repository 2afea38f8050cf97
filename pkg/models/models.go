package models

import "time"

// EphemeralKeyPair is the short-lived signing key for a single login attempt.
// It is bound to the OAuth nonce it produced and must not be used past
// MaxEpoch. Exactly one keypair is active at a time.
type EphemeralKeyPair struct {
	PublicKey  []byte    `json:"public_key"`
	SecretKey  []byte    `json:"secret_key"`
	Randomness []byte    `json:"randomness"`
	MaxEpoch   uint64    `json:"max_epoch"`
	Nonce      string    `json:"nonce"`
	CreatedAt  time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers never share secret key slices.
func (k *EphemeralKeyPair) Clone() *EphemeralKeyPair {
	if k == nil {
		return nil
	}
	out := *k
	out.PublicKey = append([]byte(nil), k.PublicKey...)
	out.SecretKey = append([]byte(nil), k.SecretKey...)
	out.Randomness = append([]byte(nil), k.Randomness...)
	return &out
}

// Zero wipes the secret key material in place.
func (k *EphemeralKeyPair) Zero() {
	if k == nil {
		return
	}
	for i := range k.SecretKey {
		k.SecretKey[i] = 0
	}
	for i := range k.Randomness {
		k.Randomness[i] = 0
	}
}

// DecodedIDToken holds the structurally parsed identity token. Parsing does
// not establish trust; the proof service re-validates the token against the
// issuer's published keys.
type DecodedIDToken struct {
	Raw       string         `json:"raw"`
	Issuer    string         `json:"issuer"`
	Subject   string         `json:"subject"`
	Audience  string         `json:"audience"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Claims    map[string]any `json:"claims"`
}

// ProofPoints are the Groth16 proof points returned by the proving service.
type ProofPoints struct {
	A []string   `json:"a"`
	B [][]string `json:"b"`
	C []string   `json:"c"`
}

// IssBase64Details locates the issuer claim inside the base64 JWT payload.
type IssBase64Details struct {
	Value     string `json:"value"`
	IndexMod4 int    `json:"indexMod4"`
}

// PartialProof binds a specific identity token to a specific ephemeral
// public key. It is only valid together with the keypair and token used to
// request it.
type PartialProof struct {
	ProofPoints      ProofPoints      `json:"proofPoints"`
	IssBase64Details IssBase64Details `json:"issBase64Details"`
	HeaderBase64     string           `json:"headerBase64"`
	MaxEpoch         uint64           `json:"maxEpoch"`
}

// CompositeSignature is the single-use signature object submitted with a
// transaction: zero-knowledge proof material plus the ephemeral signature
// over the transaction bytes.
type CompositeSignature struct {
	ProofPoints        ProofPoints      `json:"proofPoints"`
	IssBase64Details   IssBase64Details `json:"issBase64Details"`
	HeaderBase64       string           `json:"headerBase64"`
	AddressSeed        string           `json:"addressSeed"`
	MaxEpoch           uint64           `json:"maxEpoch"`
	EphemeralPublicKey []byte           `json:"ephemeralPublicKey"`
	EphemeralSignature []byte           `json:"ephemeralSignature"`
}

// ExecutionResult is the node's answer to a submitted transaction.
type ExecutionResult struct {
	Digest string `json:"digest"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
