// Package cerbhttp exposes the cerberos ticket engine over HTTP. The engine
// itself is transport-agnostic; this package owns the wire encoding (JSON
// bodies, base64 ticket blobs), the route layout, and the metrics endpoint.
package cerbhttp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cerbauth/cerberos/cerberos"
	"github.com/cerbauth/cerberos/cerblog"
)

// Reply codes carried in the uniform JSON envelope.
const (
	codeSuccess = iota
	codeParamError
	codeAuthFailed
	codeTicketInvalid
	codeReplay
	codePermissionDenied
	codeInternalError
)

// reply is the uniform response envelope for every endpoint.
type reply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	// ListenAddr is the address to listen on (default ":8088").
	ListenAddr string

	// AS handles /api/auth/login.
	AS *cerberos.AuthServer

	// TGS handles /api/kerberos/service-ticket and /api/kerberos/renew.
	TGS *cerberos.TicketGrantingServer

	// Services maps service names to their validators for the protected
	// resource routes.
	Services map[string]*cerberos.ServiceValidator

	// Logger for request output. Nil discards.
	Logger *cerblog.Logger
}

// Server serves the ticket engine over HTTP.
type Server struct {
	cfg     ServerConfig
	router  *mux.Router
	metrics *metrics

	httpServer *http.Server
	listener   net.Listener

	ready chan struct{}
	done  chan struct{}
}

// NewServer validates the config and builds the route table.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.AS == nil {
		return nil, fmt.Errorf("auth server is required")
	}
	if cfg.TGS == nil {
		return nil, fmt.Errorf("ticket granting server is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8088"
	}

	s := &Server{
		cfg:     cfg,
		metrics: newMetrics(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/kerberos/service-ticket", s.handleServiceTicket).Methods(http.MethodPost)
	r.HandleFunc("/api/kerberos/renew", s.handleRenew).Methods(http.MethodPost)
	r.HandleFunc("/api/services/{service}/resources/{id}", s.handleResource)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	s.router = r

	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background. The server shuts down when ctx is
// cancelled; use Wait to block until shutdown completes.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Errorf(cerblog.AreaHTTP, "serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		close(s.done)
	}()

	s.cfg.Logger.Printf(cerblog.AreaHTTP, "listening on %s", ln.Addr())
	close(s.ready)
	return nil
}

// Ready blocks until the server accepts connections or ctx is cancelled.
func (s *Server) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the server has fully stopped.
func (s *Server) Wait() {
	<-s.done
}

// Addr returns the bound address, useful with ":0" listeners.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.ListenAddr
}

// Wire types. Ticket blobs, session keys, and MACs travel base64-encoded.

type loginRequest struct {
	PrincipalID string `json:"principal_id"`
	Credential  string `json:"credential"`
}

type tgtGrantPayload struct {
	TGT            string    `json:"tgt"`
	SessionKey     string    `json:"session_key"`
	SubjectID      string    `json:"subject_id"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	RenewableUntil time.Time `json:"renewable_until"`
}

type authenticatorPayload struct {
	SubjectID string    `json:"subject_id"`
	Timestamp time.Time `json:"timestamp"`
	Nonce     string    `json:"nonce"`
	MAC       string    `json:"mac"`
}

type serviceTicketRequest struct {
	TGT           string               `json:"tgt"`
	Authenticator authenticatorPayload `json:"authenticator"`
	Service       string               `json:"service"`
}

type stGrantPayload struct {
	ServiceTicket string    `json:"service_ticket"`
	SessionKey    string    `json:"session_key"`
	SubjectID     string    `json:"subject_id"`
	Service       string    `json:"service"`
	ExpiresAt     time.Time `json:"expires_at"`
	Permissions   []string  `json:"permissions"`
}

type renewRequest struct {
	TGT           string               `json:"tgt"`
	Authenticator authenticatorPayload `json:"authenticator"`
}

func (p *authenticatorPayload) decode() (*cerberos.Authenticator, error) {
	mac, err := base64.StdEncoding.DecodeString(p.MAC)
	if err != nil {
		return nil, fmt.Errorf("authenticator mac: %w", err)
	}
	return &cerberos.Authenticator{
		SubjectID: p.SubjectID,
		Timestamp: p.Timestamp,
		Nonce:     p.Nonce,
		MAC:       mac,
	}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendOK(w, r, map[string]string{"status": "healthy"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, "invalid request body")
		return
	}
	if req.PrincipalID == "" || req.Credential == "" {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, "principal_id and credential are required")
		return
	}

	grant, err := s.cfg.AS.Authenticate(r.Context(), req.PrincipalID, []byte(req.Credential))
	if err != nil {
		s.metrics.authFailures.WithLabelValues(errReason(err)).Inc()
		s.sendEngineErr(w, r, err)
		return
	}

	s.metrics.ticketsIssued.WithLabelValues("tgt").Inc()
	s.sendOK(w, r, tgtGrantPayload{
		TGT:            base64.StdEncoding.EncodeToString(grant.TGT),
		SessionKey:     base64.StdEncoding.EncodeToString(grant.SessionKey),
		SubjectID:      grant.SubjectID,
		IssuedAt:       grant.IssuedAt,
		ExpiresAt:      grant.ExpiresAt,
		RenewableUntil: grant.RenewableUntil,
	})
}

func (s *Server) handleServiceTicket(w http.ResponseWriter, r *http.Request) {
	var req serviceTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, "invalid request body")
		return
	}
	if req.TGT == "" || req.Service == "" {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, "tgt and service are required")
		return
	}
	tgtBlob, err := base64.StdEncoding.DecodeString(req.TGT)
	if err != nil {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, "tgt is not valid base64")
		return
	}
	auth, err := req.Authenticator.decode()
	if err != nil {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, err.Error())
		return
	}

	grant, err := s.cfg.TGS.RequestServiceTicket(r.Context(), tgtBlob, auth, req.Service)
	if err != nil {
		s.countValidationFailure(err)
		s.sendEngineErr(w, r, err)
		return
	}

	s.metrics.ticketsIssued.WithLabelValues("st").Inc()
	s.sendOK(w, r, stGrantPayload{
		ServiceTicket: base64.StdEncoding.EncodeToString(grant.ServiceTicket),
		SessionKey:    base64.StdEncoding.EncodeToString(grant.SessionKey),
		SubjectID:     grant.SubjectID,
		Service:       grant.Service,
		ExpiresAt:     grant.ExpiresAt,
		Permissions:   grant.Permissions,
	})
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, "invalid request body")
		return
	}
	if req.TGT == "" {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, "tgt is required")
		return
	}
	tgtBlob, err := base64.StdEncoding.DecodeString(req.TGT)
	if err != nil {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, "tgt is not valid base64")
		return
	}
	auth, err := req.Authenticator.decode()
	if err != nil {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, err.Error())
		return
	}

	grant, err := s.cfg.TGS.Renew(r.Context(), tgtBlob, auth)
	if err != nil {
		s.countValidationFailure(err)
		s.sendEngineErr(w, r, err)
		return
	}

	s.metrics.ticketsIssued.WithLabelValues("renewal").Inc()
	s.sendOK(w, r, tgtGrantPayload{
		TGT:            base64.StdEncoding.EncodeToString(grant.TGT),
		SessionKey:     base64.StdEncoding.EncodeToString(grant.SessionKey),
		SubjectID:      grant.SubjectID,
		IssuedAt:       grant.IssuedAt,
		ExpiresAt:      grant.ExpiresAt,
		RenewableUntil: grant.RenewableUntil,
	})
}

// handleResource guards a demo resource behind service ticket validation.
// The sealed ticket arrives in the Service-Ticket header; GET maps to the
// "read" action, everything else to "write" and is treated as mutating.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	validator, ok := s.cfg.Services[vars["service"]]
	if !ok {
		s.sendErr(w, r, http.StatusNotFound, codeParamError, "unknown service")
		return
	}

	header := r.Header.Get("Service-Ticket")
	if header == "" {
		s.sendErr(w, r, http.StatusUnauthorized, codeTicketInvalid, "service ticket required")
		return
	}
	blob, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		s.sendErr(w, r, http.StatusBadRequest, codeParamError, "service ticket is not valid base64")
		return
	}

	action, mutating := "read", false
	if r.Method != http.MethodGet {
		action, mutating = "write", true
	}

	decision, err := validator.Validate(r.Context(), blob, action, mutating)
	if err != nil {
		s.countValidationFailure(err)
		s.sendEngineErr(w, r, err)
		return
	}

	s.metrics.decisionsGranted.Inc()
	s.sendOK(w, r, map[string]any{
		"resource_id": vars["id"],
		"subject_id":  decision.SubjectID,
		"action":      action,
		"expires_at":  decision.ExpiresAt,
	})
}

func (s *Server) countValidationFailure(err error) {
	if errors.Is(err, cerberos.ErrReplayDetected) {
		s.metrics.replaysDetected.Inc()
	}
	s.metrics.validationFailures.WithLabelValues(errReason(err)).Inc()
}

// errReason buckets engine errors for metrics labels.
func errReason(err error) string {
	switch {
	case errors.Is(err, cerberos.ErrUnknownPrincipal):
		return "unknown_principal"
	case errors.Is(err, cerberos.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, cerberos.ErrStepUpRequired):
		return "step_up_required"
	case errors.Is(err, cerberos.ErrIntegrity):
		return "integrity"
	case errors.Is(err, cerberos.ErrDecrypt):
		return "decrypt"
	case errors.Is(err, cerberos.ErrMalformedTicket):
		return "malformed"
	case errors.Is(err, cerberos.ErrExpiredTicket):
		return "expired"
	case errors.Is(err, cerberos.ErrRenewalWindowExpired):
		return "renewal_window_expired"
	case errors.Is(err, cerberos.ErrReplayDetected):
		return "replay"
	case errors.Is(err, cerberos.ErrAuthenticatorMismatch):
		return "authenticator_mismatch"
	case errors.Is(err, cerberos.ErrWrongAudience):
		return "wrong_audience"
	case errors.Is(err, cerberos.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, cerberos.ErrUnknownService):
		return "unknown_service"
	}
	return "internal"
}

// sendEngineErr maps an engine error onto an HTTP status and envelope code.
// Only the taxonomy reaches the client; detail stays in the server log.
func (s *Server) sendEngineErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, codeInternalError
	switch {
	case errors.Is(err, cerberos.ErrUnknownPrincipal),
		errors.Is(err, cerberos.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, codeAuthFailed
	case errors.Is(err, cerberos.ErrStepUpRequired):
		status, code = http.StatusForbidden, codeAuthFailed
	case errors.Is(err, cerberos.ErrReplayDetected):
		status, code = http.StatusConflict, codeReplay
	case errors.Is(err, cerberos.ErrPermissionDenied),
		errors.Is(err, cerberos.ErrWrongAudience):
		status, code = http.StatusForbidden, codePermissionDenied
	case errors.Is(err, cerberos.ErrIntegrity),
		errors.Is(err, cerberos.ErrDecrypt),
		errors.Is(err, cerberos.ErrMalformedTicket),
		errors.Is(err, cerberos.ErrExpiredTicket),
		errors.Is(err, cerberos.ErrRenewalWindowExpired),
		errors.Is(err, cerberos.ErrAuthenticatorMismatch):
		status, code = http.StatusUnauthorized, codeTicketInvalid
	case errors.Is(err, cerberos.ErrUnknownService):
		status, code = http.StatusNotFound, codeParamError
	}
	s.sendErr(w, r, status, code, errReason(err))
}

func (s *Server) sendOK(w http.ResponseWriter, r *http.Request, data any) {
	s.send(w, r, http.StatusOK, &reply{Code: codeSuccess, Msg: "success", Data: data})
}

func (s *Server) sendErr(w http.ResponseWriter, r *http.Request, status, code int, msg string) {
	s.cfg.Logger.Printf(cerblog.AreaHTTP, "%s %s -> %d %s", r.Method, r.URL.Path, status, msg)
	s.send(w, r, status, &reply{Code: code, Msg: msg})
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, status int, rep *reply) {
	body, err := json.Marshal(rep)
	if err != nil {
		s.cfg.Logger.Errorf(cerblog.AreaHTTP, "marshal reply for %s: %v", r.URL.Path, err)
		http.Error(w, "failed to marshal reply", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.cfg.Logger.Errorf(cerblog.AreaHTTP, "write reply for %s: %v", r.URL.Path, err)
	}
}
