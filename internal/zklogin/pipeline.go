package zklogin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/EdisonARUI/Membership-MVP-sub000/internal/keystore"
	"github.com/EdisonARUI/Membership-MVP-sub000/internal/platform/privacylog"
	"github.com/EdisonARUI/Membership-MVP-sub000/pkg/models"
)

// State is the single source of truth for pipeline progress. "Already
// processed" is a structural property of the transition table, not a flag.
type State int

const (
	StateIdle State = iota
	StateKeypairReady
	StateAwaitingCallback
	StateTokenDecoded
	StateSaltResolved
	StateProofReady
	StateAuthenticated
	StateSigning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateKeypairReady:
		return "keypair_ready"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateTokenDecoded:
		return "token_decoded"
	case StateSaltResolved:
		return "salt_resolved"
	case StateProofReady:
		return "proof_ready"
	case StateAuthenticated:
		return "authenticated"
	case StateSigning:
		return "signing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options wires the controller's collaborators. Every external service is an
// injected dependency so tests can substitute fakes; nothing here is a
// package global.
type Options struct {
	Store       *keystore.Store
	Chain       EpochReader
	SaltFetcher SaltFetcher
	Prover      ProofRequester
	EpochWindow uint64
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Controller drives the login pipeline in order: ephemeral key, OAuth
// redirect, token decode, salt, proof, address. Only Idle and Authenticated
// survive a restart; every other state is session-local and the flow resumes
// from the last persisted one.
type Controller struct {
	mu      sync.Mutex
	state   State
	lastErr error

	store   *keystore.Store
	keys    *KeyManager
	salts   *SaltResolver
	prover  ProofRequester
	chain   EpochReader
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Chain == nil || opts.SaltFetcher == nil || opts.Prover == nil {
		return nil, errors.New("zklogin controller requires store, chain, salt fetcher and prover")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stdout, nil)))
	}
	if err := opts.Store.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrapping key material store: %w", err)
	}

	c := &Controller{
		state:   StateIdle,
		store:   opts.Store,
		keys:    NewKeyManager(opts.Store, opts.Chain, opts.EpochWindow, logger),
		salts:   NewSaltResolver(opts.Store, opts.SaltFetcher, logger),
		prover:  opts.Prover,
		chain:   opts.Chain,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
	// A persisted address means a completed prior login: resume directly as
	// Authenticated with zero network calls. Epoch validity is checked lazily
	// when the material is next used.
	if c.store.Address() != "" {
		c.state = StateAuthenticated
		logger.Info("resumed authenticated session", "address", c.store.Address())
	}
	return c, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Address returns the derived account address, empty until authenticated.
func (c *Controller) Address() string {
	return c.store.Address()
}

// Prepare ensures an active ephemeral keypair and returns the nonce to embed
// in the OAuth request. forceNew is the user-visible restart: it is accepted
// from any state, invalidates any in-flight redirect and drops session
// material from the abandoned attempt.
func (c *Controller) Prepare(ctx context.Context, forceNew bool) (string, error) {
	if !forceNew {
		c.mu.Lock()
		switch c.state {
		case StateIdle, StateKeypairReady, StateAwaitingCallback, StateFailed:
		case StateAuthenticated, StateCompleted:
			c.mu.Unlock()
			return "", fmt.Errorf("%w: already authenticated; pass forceNew to restart", ErrInvalidTransition)
		default:
			state := c.state
			c.mu.Unlock()
			return "", fmt.Errorf("%w: prepare from %s", ErrInvalidTransition, state)
		}
		c.mu.Unlock()
	}

	kp, err := c.keys.Prepare(ctx, forceNew)
	c.metrics.ObserveStep("prepare", err)
	if err != nil {
		// Prior state stays untouched; the caller must not redirect.
		c.recordErr(err)
		return "", err
	}
	if forceNew {
		c.store.SetToken(nil)
		c.store.SetProof(nil)
	}

	c.mu.Lock()
	c.state = StateKeypairReady
	c.lastErr = nil
	c.mu.Unlock()
	return kp.Nonce, nil
}

// RedirectStarted marks the browser handoff to the identity provider. The
// redirect itself is a full page navigation with no timeout to apply here.
func (c *Controller) RedirectStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateKeypairReady {
		return fmt.Errorf("%w: redirect from %s", ErrInvalidTransition, c.state)
	}
	c.state = StateAwaitingCallback
	return nil
}

// HandleCallback consumes the identity token delivered by the OAuth callback
// and runs the pipeline through to address derivation. Each step fails fast
// and leaves previously resolved state in place. TokenDecoded is accepted so
// a transient salt-service failure can be retried with the same token.
func (c *Controller) HandleCallback(ctx context.Context, rawToken string) (string, error) {
	c.mu.Lock()
	switch c.state {
	case StateKeypairReady, StateAwaitingCallback, StateTokenDecoded:
	default:
		state := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("%w: callback in %s", ErrInvalidTransition, state)
	}
	c.mu.Unlock()

	token, err := ParseIDToken(rawToken)
	c.metrics.ObserveStep("parse_token", err)
	if err != nil {
		c.recordErr(err)
		return "", err
	}
	c.store.SetToken(token)
	c.setState(StateTokenDecoded)

	salt, err := c.salts.Resolve(ctx, token)
	c.metrics.ObserveStep("resolve_salt", err)
	if err != nil {
		c.recordErr(err)
		return "", err
	}
	c.setState(StateSaltResolved)

	return c.completeProof(ctx, token, salt)
}

// RetryProof re-runs only the proof step after a transient proving failure.
// Keypair, token and salt resolved earlier stay in effect.
func (c *Controller) RetryProof(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state != StateSaltResolved {
		state := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("%w: proof retry in %s", ErrInvalidTransition, state)
	}
	c.mu.Unlock()

	token := c.store.Token()
	salt := c.store.Salt()
	if token == nil || salt == "" {
		err := fmt.Errorf("%w: session state lost; restart the login flow", ErrReauthRequired)
		c.failWith(err)
		return "", err
	}
	return c.completeProof(ctx, token, salt)
}

func (c *Controller) completeProof(ctx context.Context, token *models.DecodedIDToken, salt string) (string, error) {
	// Always the latest persisted keypair, never a copy cached across awaits.
	kp := c.store.Keypair()
	if kp == nil {
		err := fmt.Errorf("%w: no active ephemeral keypair", ErrReauthRequired)
		c.failWith(err)
		return "", err
	}

	start := c.now()
	proof, err := c.prover.RequestProof(ctx, token.Raw, kp.PublicKey, salt, kp.Randomness, kp.MaxEpoch)
	c.metrics.ObserveProofLatency(c.now().Sub(start))
	c.metrics.ObserveStep("request_proof", err)
	if err != nil {
		return "", c.classifyProofFailure(ctx, kp, err)
	}
	c.store.SetProof(proof)
	c.setState(StateProofReady)

	address, err := DeriveAddress(token, salt)
	c.metrics.ObserveStep("derive_address", err)
	if err != nil {
		c.recordErr(err)
		return "", err
	}
	if err := c.store.SetAddress(address); err != nil {
		c.recordErr(err)
		return "", err
	}
	c.setState(StateAuthenticated)
	c.logger.Info("login pipeline authenticated", "address", address, "max_epoch", kp.MaxEpoch)
	return address, nil
}

// classifyProofFailure decides between "transient, retry from SaltResolved"
// and "ephemeral key expired, re-authenticate". The persisted keypair and any
// derived address are never cleared here.
func (c *Controller) classifyProofFailure(ctx context.Context, kp *models.EphemeralKeyPair, err error) error {
	var proofErr *ProofServiceError
	if errors.As(err, &proofErr) && proofErr.Kind != ProofRateLimited {
		if epoch, epochErr := c.chain.CurrentEpoch(ctx); epochErr == nil && kp.MaxEpoch < epoch {
			wrapped := fmt.Errorf("%w: ephemeral key expired at epoch %d (current %d)", ErrReauthRequired, kp.MaxEpoch, epoch)
			c.failWith(wrapped)
			return wrapped
		}
	}
	// Transient or service-side failure: remain in SaltResolved so the caller
	// can retry only the proof step.
	c.mu.Lock()
	c.state = StateSaltResolved
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// SignTransaction produces the composite signature for one transaction. The
// session proof and token must still be present; after a reload they are
// gone and the flow has to re-run from its last persisted state.
func (c *Controller) SignTransaction(txBytes []byte) (string, error) {
	c.mu.Lock()
	if c.state != StateAuthenticated && c.state != StateCompleted {
		state := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("%w: signing in %s", ErrInvalidTransition, state)
	}
	c.state = StateSigning
	c.mu.Unlock()

	sig, err := AssembleSignature(txBytes, c.store.Keypair(), c.store.Proof(), c.store.Salt(), c.store.Token())
	c.metrics.ObserveStep("sign", err)
	if err != nil {
		c.mu.Lock()
		c.state = StateAuthenticated
		c.lastErr = err
		c.mu.Unlock()
		return "", err
	}
	encoded, err := EncodeCompositeSignature(sig)
	if err != nil {
		c.mu.Lock()
		c.state = StateAuthenticated
		c.lastErr = err
		c.mu.Unlock()
		return "", err
	}

	c.mu.Lock()
	c.state = StateCompleted
	c.lastErr = nil
	c.mu.Unlock()
	return encoded, nil
}

// Clear is the only transition back to Idle. It wipes secret material and
// session flags in one step; if the wipe fails nothing changes.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.ClearAll(); err != nil {
		return err
	}
	c.state = StateIdle
	c.lastErr = nil
	c.logger.Info("pipeline cleared")
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.lastErr = nil
	c.mu.Unlock()
}

func (c *Controller) recordErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Controller) failWith(err error) {
	c.mu.Lock()
	c.state = StateFailed
	c.lastErr = err
	c.mu.Unlock()
}
