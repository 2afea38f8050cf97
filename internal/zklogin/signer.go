package zklogin

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/EdisonARUI/Membership-MVP-sub000/pkg/models"
)

// AssembleSignature signs the transaction bytes with the ephemeral secret key
// and packages the result with the proof material into a composite signature.
// All inputs must originate from the same login attempt; the proof's epoch
// bound is checked against the keypair's so a proof can never be combined
// with a keypair it was not issued for.
func AssembleSignature(txBytes []byte, kp *models.EphemeralKeyPair, proof *models.PartialProof, salt string, token *models.DecodedIDToken) (*models.CompositeSignature, error) {
	if len(txBytes) == 0 {
		return nil, fmt.Errorf("%w: empty transaction bytes", ErrSignatureAssembly)
	}
	if kp == nil || len(kp.SecretKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: missing ephemeral keypair", ErrSignatureAssembly)
	}
	if proof == nil || proof.HeaderBase64 == "" || len(proof.ProofPoints.A) == 0 {
		return nil, fmt.Errorf("%w: missing partial proof", ErrSignatureAssembly)
	}
	if salt == "" {
		return nil, fmt.Errorf("%w: missing user salt", ErrSignatureAssembly)
	}
	if token == nil || token.Subject == "" || token.Audience == "" {
		return nil, fmt.Errorf("%w: missing decoded identity token", ErrSignatureAssembly)
	}
	if proof.MaxEpoch != kp.MaxEpoch {
		return nil, fmt.Errorf("%w: proof epoch bound %d does not match keypair bound %d", ErrSignatureAssembly, proof.MaxEpoch, kp.MaxEpoch)
	}

	seed, err := AddressSeed(salt, token.Subject, token.Audience)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureAssembly, err)
	}

	signature := ed25519.Sign(ed25519.PrivateKey(kp.SecretKey), txBytes)
	return &models.CompositeSignature{
		ProofPoints:        proof.ProofPoints,
		IssBase64Details:   proof.IssBase64Details,
		HeaderBase64:       proof.HeaderBase64,
		AddressSeed:        hex.EncodeToString(seed),
		MaxEpoch:           kp.MaxEpoch,
		EphemeralPublicKey: append([]byte(nil), kp.PublicKey...),
		EphemeralSignature: signature,
	}, nil
}

// EncodeCompositeSignature serializes a composite signature into the base64
// wire form submitted alongside the transaction bytes.
func EncodeCompositeSignature(sig *models.CompositeSignature) (string, error) {
	if sig == nil {
		return "", fmt.Errorf("%w: nil composite signature", ErrSignatureAssembly)
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureAssembly, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeCompositeSignature parses the wire form back into its parts.
func DecodeCompositeSignature(encoded string) (*models.CompositeSignature, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureAssembly, err)
	}
	var sig models.CompositeSignature
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureAssembly, err)
	}
	return &sig, nil
}
