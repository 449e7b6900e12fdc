package admin

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/ledgerctl/internal/auth"
	"github.com/danmuck/ledgerctl/internal/device"
	"github.com/danmuck/ledgerctl/internal/ledger"
	"github.com/danmuck/ledgerctl/internal/observability"
	"github.com/danmuck/ledgerctl/internal/stellar"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Controller is the session surface the admin routes drive.
type Controller interface {
	Connect(ctx context.Context) error
	ConnectAccount(ctx context.Context, acct ledger.Account) error
	Disconnect()
	Sign(ctx context.Context, tx stellar.Transaction) error
	Snapshot() ledger.Session
}

var _ Controller = (*ledger.Controller)(nil)

type Options struct {
	CorsOrigins       []string
	NetworkPassphrase string
	// ConnectTimeout bounds how long POST /connect waits. The handshake
	// keeps running after it expires.
	ConnectTimeout time.Duration
	// Token, when set, is required as a bearer token on every POST route.
	Token string
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	ctl    Controller
	opts   Options
	router *gin.Engine
}

func New(id, addr string, ctl Controller, opts Options) *Server {
	observability.RegisterMetrics()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if strings.TrimSpace(opts.NetworkPassphrase) == "" {
		opts.NetworkPassphrase = stellar.TestNetworkPassphrase
	}

	allowHeaders := []string{"Origin", "Content-Type"}
	if opts.Token != "" {
		allowHeaders = append(allowHeaders, "Authorization")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestTelemetry(id, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: allowHeaders,
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		ctl:      ctl,
		opts:     opts,
		router:   r,
	}
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Appeared).String(),
			"service":   s.ID,
			"connected": s.ctl.Snapshot().Connected(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, newSessionView(s.ctl.Snapshot()))
	})

	control := r.Group("/")
	if s.opts.Token != "" {
		control.Use(auth.Require(auth.StaticToken{Token: s.opts.Token}))
	}

	control.POST("/connect", s.handleConnect)

	control.POST("/disconnect", func(c *gin.Context) {
		s.ctl.Disconnect()
		c.JSON(http.StatusOK, newSessionView(s.ctl.Snapshot()))
	})

	control.POST("/sign", s.handleSign)
}

type connectRequest struct {
	Account  uint32 `json:"account"`
	Index    uint32 `json:"index"`
	Internal bool   `json:"internal"`
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	err := c.ShouldBindJSON(&req)
	withAccount := err == nil
	if err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.ConnectTimeout)
	defer cancel()
	if withAccount {
		err = s.ctl.ConnectAccount(ctx, ledger.Account{
			Number:   req.Account,
			Index:    req.Index,
			Internal: req.Internal,
		})
	} else {
		err = s.ctl.Connect(ctx)
	}
	if err != nil {
		status := connectStatus(err)
		c.JSON(status, errorBody(err))
		return
	}
	c.JSON(http.StatusOK, newSessionView(s.ctl.Snapshot()))
}

func connectStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ledger.ErrTransportUnsupported):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrConnectAborted):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

type signRequest struct {
	NetworkPassphrase string `json:"network_passphrase"`
	Body              []byte `json:"body" binding:"required"`
}

type signResponse struct {
	PublicKey string `json:"public_key"`
	Path      string `json:"path"`
	Hint      string `json:"hint"`
	Signature []byte `json:"signature"`
}

func (s *Server) handleSign(c *gin.Context) {
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	passphrase := strings.TrimSpace(req.NetworkPassphrase)
	if passphrase == "" {
		passphrase = s.opts.NetworkPassphrase
	}

	env := &stellar.Envelope{NetworkPassphrase: passphrase, Body: req.Body}
	if err := s.ctl.Sign(c.Request.Context(), env); err != nil {
		c.JSON(signStatus(err), errorBody(err))
		return
	}
	sig := env.Signatures[len(env.Signatures)-1]
	snap := s.ctl.Snapshot()
	c.JSON(http.StatusOK, signResponse{
		PublicKey: snap.PublicKey,
		Path:      snap.Path,
		Hint:      stellar.HintOf(sig).String(),
		Signature: sig.Signature,
	})
}

func signStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, stellar.ErrMissingPassphrase), errors.Is(err, stellar.ErrEmptyTransaction):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrDeclined):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func errorBody(err error) gin.H {
	return gin.H{
		"error": err.Error(),
		"class": ledger.Classify(err).String(),
	}
}

type sessionView struct {
	Connected       bool   `json:"connected"`
	Account         uint32 `json:"account"`
	Index           uint32 `json:"index"`
	Internal        bool   `json:"internal"`
	Path            string `json:"path,omitempty"`
	PublicKey       string `json:"public_key,omitempty"`
	Version         string `json:"version,omitempty"`
	MultiOpsEnabled bool   `json:"multi_ops_enabled"`
	Connectivity    string `json:"connectivity"`
	LastError       string `json:"last_error,omitempty"`
	LastErrorClass  string `json:"last_error_class,omitempty"`
}

func newSessionView(s ledger.Session) sessionView {
	v := sessionView{
		Connected:       s.Connected(),
		Account:         s.Account.Number,
		Index:           s.Account.Index,
		Internal:        s.Account.Internal,
		Path:            s.Path,
		PublicKey:       s.PublicKey,
		Version:         s.Version,
		MultiOpsEnabled: s.MultiOpsEnabled,
		Connectivity:    s.Connectivity.String(),
	}
	if s.LastError != nil {
		v.LastError = s.LastError.Error()
		v.LastErrorClass = ledger.Classify(s.LastError).String()
	}
	return v
}

// Serve registers routes and blocks until ctx ends or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(s.Addr))
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.RegisterRoutes()
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("id", s.ID).Str("addr", ln.Addr().String()).Msg("admin listening")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
