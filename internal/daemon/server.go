// Package daemon exposes the login pipeline to the surrounding application
// over a local HTTP API. Consumers depend only on "current address" and
// "sign this payload"; internal pipeline state never leaks past /v1/status.
package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EdisonARUI/Membership-MVP-sub000/internal/chain"
	"github.com/EdisonARUI/Membership-MVP-sub000/internal/config"
	"github.com/EdisonARUI/Membership-MVP-sub000/internal/keystore"
	"github.com/EdisonARUI/Membership-MVP-sub000/internal/platform/privacylog"
	"github.com/EdisonARUI/Membership-MVP-sub000/internal/platform/ratelimiter"
	"github.com/EdisonARUI/Membership-MVP-sub000/internal/saltbackup"
	"github.com/EdisonARUI/Membership-MVP-sub000/internal/zklogin"
)

type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	controller *zklogin.Controller
	store      *keystore.Store
	node       *chain.Client
	limiter    *ratelimiter.MapLimiter
	httpServer *http.Server
}

func NewServer(cfg config.Config) (*Server, error) {
	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stdout, nil)))

	storePath := ""
	if cfg.DataDir != "" {
		storePath = filepath.Join(cfg.DataDir, "zklogin", "material.enc")
	}
	store := keystore.New(storePath, cfg.StoreSecret)
	node := chain.NewClient(cfg.FullnodeURL, cfg.RequestTimeout, logger)

	controller, err := zklogin.NewController(zklogin.Options{
		Store:       store,
		Chain:       node,
		SaltFetcher: zklogin.NewSaltClient(cfg.SaltServiceURL, cfg.RequestTimeout),
		Prover:      zklogin.NewProofClient(cfg.ProverURL, cfg.Network, cfg.RequestTimeout, logger),
		EpochWindow: cfg.EpochWindow,
		Logger:      logger,
		Metrics:     zklogin.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		controller: controller,
		store:      store,
		node:       node,
		limiter:    ratelimiter.New(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/prepare", s.handlePrepare)
	mux.HandleFunc("POST /v1/redirect-started", s.handleRedirectStarted)
	mux.HandleFunc("POST /v1/callback", s.handleCallback)
	mux.HandleFunc("POST /v1/retry-proof", s.handleRetryProof)
	mux.HandleFunc("GET /v1/address", s.handleAddress)
	mux.HandleFunc("POST /v1/sign", s.handleSign)
	mux.HandleFunc("POST /v1/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/clear", s.handleClear)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/salt-backup", s.handleSaltBackup)
	mux.HandleFunc("POST /v1/salt-restore", s.handleSaltRestore)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.rateLimited(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("zklogind listening", "addr", s.cfg.ListenAddr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.Allow(host, time.Now()) {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ForceNew bool `json:"forceNew"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	nonce, err := s.controller.Prepare(r.Context(), req.ForceNew)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nonce": nonce,
		"state": s.controller.State().String(),
	})
}

func (s *Server) handleRedirectStarted(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RedirectStarted(); err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.controller.State().String()})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	address, err := s.controller.HandleCallback(r.Context(), req.IDToken)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"state":   s.controller.State().String(),
	})
}

func (s *Server) handleRetryProof(w http.ResponseWriter, r *http.Request) {
	address, err := s.controller.RetryProof(r.Context())
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"state":   s.controller.State().String(),
	})
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	address := s.controller.Address()
	if address == "" {
		writeError(w, http.StatusNotFound, "no authenticated address")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	txBytes, _, ok := decodeTxBytes(w, r)
	if !ok {
		return
	}
	signature, err := s.controller.SignTransaction(txBytes)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signature": signature})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	txBytes, txB64, ok := decodeTxBytes(w, r)
	if !ok {
		return
	}
	signature, err := s.controller.SignTransaction(txBytes)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	result, err := s.node.ExecuteTransaction(r.Context(), txB64, signature)
	if err != nil {
		if errors.Is(err, chain.ErrTransactionExecution) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"digest": result.Digest,
				"status": result.Status,
				"error":  result.Error,
			})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"digest": result.Digest,
		"status": result.Status,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.controller.State().String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"state":   s.controller.State().String(),
		"address": s.controller.Address(),
	}
	if err := s.controller.Err(); err != nil {
		out["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaltBackup(w http.ResponseWriter, r *http.Request) {
	salt := s.store.Salt()
	if salt == "" {
		writeError(w, http.StatusNotFound, "no salt to back up")
		return
	}
	mnemonic, err := saltbackup.ExportMnemonic(salt)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mnemonic": mnemonic})
}

func (s *Server) handleSaltRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mnemonic string `json:"mnemonic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Restoring over an existing salt would silently re-derive a different
	// address; that is only allowed on an empty store.
	if s.store.Salt() != "" {
		writeError(w, http.StatusConflict, "a salt is already present; clear the pipeline first")
		return
	}
	salt, err := saltbackup.ImportMnemonic(req.Mnemonic)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Restored before any login, so the salt is not yet bound to an identity;
	// the first successful callback binds it.
	if err := s.store.SetSalt(salt, "", ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restored": true})
}

// writePipelineError maps the error taxonomy onto distinguishable HTTP
// classes: re-authenticate, back off and retry, or internal inconsistency.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var proofErr *zklogin.ProofServiceError
	switch {
	case errors.As(err, &proofErr):
		switch proofErr.Kind {
		case zklogin.ProofRateLimited:
			writeError(w, http.StatusTooManyRequests, err.Error())
		case zklogin.ProofAccessDenied:
			writeError(w, http.StatusForbidden, err.Error())
		case zklogin.ProofMalformedResponse:
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
	case errors.Is(err, zklogin.ErrReauthRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, zklogin.ErrInvalidTransition), errors.Is(err, zklogin.ErrIdentityMismatch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, zklogin.ErrJWTParsing):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, zklogin.ErrSaltRetrieval), errors.Is(err, zklogin.ErrKeypairCreation):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeTxBytes returns both the decoded transaction bytes (for signing) and
// the original base64 form (for node submission).
func decodeTxBytes(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	var req struct {
		TxBytesBase64 string `json:"txBytesBase64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxBytesBase64 == "" {
		writeError(w, http.StatusBadRequest, "txBytesBase64 is required")
		return nil, "", false
	}
	raw, err := base64DecodeStrict(req.TxBytesBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "txBytesBase64 is not valid base64")
		return nil, "", false
	}
	return raw, req.TxBytesBase64, true
}

func base64DecodeStrict(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
