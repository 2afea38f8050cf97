package zklogin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"

	"github.com/EdisonARUI/Membership-MVP-sub000/pkg/models"
)

const (
	addressFlag      = 0x05
	addressSeedInfo  = "zkl/address-seed/v1"
	addressSeedBytes = 32
)

// DeriveAddress maps an identity token and user salt to the account address.
// Pure and deterministic: the same (issuer, subject, audience, salt) always
// yields the same address, and a different salt yields a different address.
// Losing or changing the salt therefore orphans the derived account — that is
// an operational invariant of the scheme, not a bug.
func DeriveAddress(token *models.DecodedIDToken, salt string) (string, error) {
	if token == nil {
		return "", fmt.Errorf("%w: nil token", ErrAddressDerivation)
	}
	if token.Issuer == "" || token.Subject == "" || token.Audience == "" {
		return "", fmt.Errorf("%w: token is missing issuer, subject or audience", ErrAddressDerivation)
	}
	if salt == "" {
		return "", fmt.Errorf("%w: empty salt", ErrAddressDerivation)
	}
	if len(token.Issuer) > 255 {
		return "", fmt.Errorf("%w: issuer exceeds 255 bytes", ErrAddressDerivation)
	}

	seed, err := AddressSeed(salt, token.Subject, token.Audience)
	if err != nil {
		return "", err
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAddressDerivation, err)
	}
	h.Write([]byte{addressFlag, byte(len(token.Issuer))})
	h.Write([]byte(token.Issuer))
	h.Write(seed)
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

// AddressSeed blends the salt with the subject and audience claims so the
// address is not computable from the public identity claims alone.
func AddressSeed(salt, subject, audience string) ([]byte, error) {
	if salt == "" || subject == "" || audience == "" {
		return nil, fmt.Errorf("%w: missing address seed input", ErrAddressDerivation)
	}
	info := addressSeedInfo + "\x00" + subject + "\x00" + audience
	reader := hkdf.New(sha256.New, []byte(salt), nil, []byte(info))
	seed := make([]byte, addressSeedBytes)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressDerivation, err)
	}
	return seed, nil
}
