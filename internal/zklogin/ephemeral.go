package zklogin

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/EdisonARUI/Membership-MVP-sub000/internal/keystore"
	"github.com/EdisonARUI/Membership-MVP-sub000/pkg/models"
)

const (
	defaultEpochWindow = 2
	randomnessSize     = 16
)

// EpochReader reports the current epoch of the target network.
type EpochReader interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
}

// KeyManager creates and reuses the single active ephemeral keypair. The
// keypair is always read back from the store before use rather than cached in
// memory, so concurrent contexts agree on which nonce is in flight.
type KeyManager struct {
	store  *keystore.Store
	chain  EpochReader
	window uint64
	logger *slog.Logger
	now    func() time.Time
}

func NewKeyManager(store *keystore.Store, chain EpochReader, window uint64, logger *slog.Logger) *KeyManager {
	if window == 0 {
		window = defaultEpochWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyManager{
		store:  store,
		chain:  chain,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Prepare returns a valid ephemeral keypair bound to a fresh nonce. With
// forceNew false and an unexpired persisted keypair, that keypair is returned
// unchanged; the only network I/O is the epoch check. forceNew is the
// explicit restart: it invalidates any nonce already sent to the identity
// provider.
func (m *KeyManager) Prepare(ctx context.Context, forceNew bool) (*models.EphemeralKeyPair, error) {
	epoch, err := m.chain.CurrentEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading current epoch: %v", ErrKeypairCreation, err)
	}

	if !forceNew {
		if kp := m.store.Keypair(); kp != nil && kp.MaxEpoch >= epoch {
			return kp, nil
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generating keypair: %v", ErrKeypairCreation, err)
	}
	randomness := make([]byte, randomnessSize)
	if _, err := rand.Read(randomness); err != nil {
		return nil, fmt.Errorf("%w: generating randomness: %v", ErrKeypairCreation, err)
	}

	maxEpoch := epoch + m.window
	kp := &models.EphemeralKeyPair{
		PublicKey:  append([]byte(nil), pub...),
		SecretKey:  append([]byte(nil), priv...),
		Randomness: randomness,
		MaxEpoch:   maxEpoch,
		Nonce:      Nonce(pub, maxEpoch, randomness),
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.SetKeypair(kp); err != nil {
		kp.Zero()
		return nil, fmt.Errorf("%w: persisting keypair: %v", ErrKeypairCreation, err)
	}
	m.logger.Info("ephemeral keypair created",
		"nonce", kp.Nonce,
		"max_epoch", kp.MaxEpoch,
		"force_new", forceNew,
	)
	return kp, nil
}

// Nonce commits to the ephemeral public key, its validity bound and the login
// randomness. The identity provider echoes it back inside the token, which
// lets the proof service bind the token to exactly this keypair.
func Nonce(publicKey []byte, maxEpoch uint64, randomness []byte) string {
	buf := make([]byte, 0, len(publicKey)+8+len(randomness))
	buf = append(buf, publicKey...)
	var epochBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], maxEpoch)
	buf = append(buf, epochBytes[:]...)
	buf = append(buf, randomness...)
	sum := blake2b.Sum256(buf)
	return base58.Encode(sum[:])
}
