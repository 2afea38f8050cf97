// Package keystore persists zkLogin key material across restarts. Durable
// fields (ephemeral keypair, user salt, derived address) survive a restart
// encrypted at rest; session fields (decoded token, partial proof) live only
// in memory and are lost with the process, forcing the flow to resume from
// the last persisted state.
package keystore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"sync"

	"github.com/EdisonARUI/Membership-MVP-sub000/internal/securestore"
	"github.com/EdisonARUI/Membership-MVP-sub000/pkg/models"
)

const stateVersion = 1

var ErrInvalidState = errors.New("keystore persisted state is invalid")

type durableState struct {
	Version     int                      `json:"version"`
	Keypair     *models.EphemeralKeyPair `json:"keypair,omitempty"`
	Salt        string                   `json:"salt,omitempty"`
	SaltIssuer  string                   `json:"saltIssuer,omitempty"`
	SaltSubject string                   `json:"saltSubject,omitempty"`
	Address     string                   `json:"address,omitempty"`
}

// Store is the single holder of pipeline key material. With an empty path it
// degrades to memory-only persistence, which tests rely on.
type Store struct {
	mu      sync.RWMutex
	path    string
	secret  string
	durable durableState
	token   *models.DecodedIDToken
	proof   *models.PartialProof
}

func New(path, secret string) *Store {
	path, secret = securestore.NormalizeStorageConfig(path, secret)
	return &Store{
		path:    path,
		secret:  secret,
		durable: durableState{Version: stateVersion},
	}
}

// Bootstrap loads the persisted durable state. A missing file is the normal
// first-run path, not an error.
func (s *Store) Bootstrap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	raw, err := securestore.ReadDecryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	state, err := decodeState(raw)
	if err != nil {
		return err
	}
	s.durable = state
	return nil
}

func (s *Store) SetKeypair(kp *models.EphemeralKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.durable.Keypair
	s.durable.Keypair = kp.Clone()
	if err := s.persistLocked(); err != nil {
		s.durable.Keypair = prev
		return err
	}
	prev.Zero()
	return nil
}

// Keypair returns the latest persisted keypair. Callers must re-read instead
// of caching across awaited I/O so concurrent contexts agree on the single
// active keypair.
func (s *Store) Keypair() *models.EphemeralKeyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durable.Keypair.Clone()
}

// SetSalt records the salt together with the identity it belongs to. The salt
// is content-addressed to (issuer, subject), not to the session: a different
// identity must never pick it up. Empty issuer and subject mean the salt was
// restored from backup and is not yet bound to anyone.
func (s *Store) SetSalt(salt, issuer, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prevSalt, prevIssuer, prevSubject := s.durable.Salt, s.durable.SaltIssuer, s.durable.SaltSubject
	s.durable.Salt = salt
	s.durable.SaltIssuer = issuer
	s.durable.SaltSubject = subject
	if err := s.persistLocked(); err != nil {
		s.durable.Salt = prevSalt
		s.durable.SaltIssuer = prevIssuer
		s.durable.SaltSubject = prevSubject
		return err
	}
	return nil
}

func (s *Store) Salt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durable.Salt
}

// SaltIdentity reports which identity the stored salt belongs to.
func (s *Store) SaltIdentity() (issuer, subject string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durable.SaltIssuer, s.durable.SaltSubject
}

func (s *Store) SetAddress(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.durable.Address
	s.durable.Address = address
	if err := s.persistLocked(); err != nil {
		s.durable.Address = prev
		return err
	}
	return nil
}

func (s *Store) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durable.Address
}

func (s *Store) SetToken(token *models.DecodedIDToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Store) Token() *models.DecodedIDToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) SetProof(proof *models.PartialProof) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proof = proof
}

func (s *Store) Proof() *models.PartialProof {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proof
}

// ClearAll discards every durable and session field in one step. The wipe is
// all-or-nothing: if persisting the empty state fails, the previous state is
// left in place and reported to the caller.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.durable
	s.durable = durableState{Version: stateVersion}
	if err := s.persistLocked(); err != nil {
		s.durable = prev
		return err
	}
	prev.Keypair.Zero()
	s.token = nil
	s.proof = nil
	return nil
}

func decodeState(raw []byte) (durableState, error) {
	var state durableState
	if err := json.Unmarshal(raw, &state); err != nil {
		return durableState{}, ErrInvalidState
	}
	if state.Version != stateVersion {
		return durableState{}, ErrInvalidState
	}
	return state, nil
}

func (s *Store) persistLocked() error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	return securestore.WriteEncryptedJSON(s.path, s.secret, s.durable)
}
