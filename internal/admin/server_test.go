package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ledgerctl/internal/device"
	"github.com/danmuck/ledgerctl/internal/device/sim"
	"github.com/danmuck/ledgerctl/internal/ledger"
	"github.com/danmuck/ledgerctl/internal/stellar"
	"github.com/danmuck/ledgerctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T, opts Options) (*Server, *ledger.Controller, *sim.Device) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dev := sim.New(sim.Options{Seed: t.Name()})
	ctl := ledger.New(dev, dev.NewApplication, ledger.Config{
		Retry:              ledger.BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 1.0},
		HeartbeatInterval:  5 * time.Millisecond,
		DeviceWaitInterval: time.Millisecond,
	})
	t.Cleanup(ctl.Disconnect)
	s := New("ledgerctl-test", ":0", ctl, opts)
	s.RegisterRoutes()
	return s, ctl, dev
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)

	out := map[string]any{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode body: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, out
}

func TestHealthAndIdleSession(t *testing.T) {
	testlog.Start(t)
	s, _, _ := newTestServer(t, Options{})

	rr, body := do(t, s, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || body["status"] != "ok" || body["connected"] != false {
		t.Fatalf("unexpected health: %d %#v", rr.Code, body)
	}

	rr, body = do(t, s, http.MethodGet, "/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body["connected"] != false || body["connectivity"] != "unknown" {
		t.Fatalf("unexpected idle session: %#v", body)
	}
	if _, ok := body["public_key"]; ok {
		t.Fatalf("idle session reported a public key: %#v", body)
	}
}

func TestConnectRouteUsesRequestedAccount(t *testing.T) {
	testlog.Start(t)
	s, _, dev := newTestServer(t, Options{})

	rr, body := do(t, s, http.MethodPost, "/connect", `{"account":1,"index":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if body["path"] != "44'/148'/1'/0'/2'" {
		t.Fatalf("unexpected path: %#v", body["path"])
	}
	if body["public_key"] != dev.Address("44'/148'/1'/0'/2'") || body["connected"] != true {
		t.Fatalf("unexpected session: %#v", body)
	}

	rr, body = do(t, s, http.MethodPost, "/connect", "")
	if rr.Code != http.StatusOK || body["path"] != "44'/148'/1'/0'/2'" {
		t.Fatalf("bodyless connect did not keep the account: %d %#v", rr.Code, body)
	}
	if got := dev.Stats().PublicKeyCalls; got != 1 {
		t.Fatalf("connected session re-ran the handshake: %d", got)
	}
}

func TestConnectRouteRejectsMalformedBody(t *testing.T) {
	testlog.Start(t)
	s, _, dev := newTestServer(t, Options{})
	rr, _ := do(t, s, http.MethodPost, "/connect", `{"account":"one"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if got := dev.Stats().Opens; got != 0 {
		t.Fatalf("malformed request reached the device")
	}
}

func TestConnectRouteMapsFailures(t *testing.T) {
	testlog.Start(t)
	s, _, dev := newTestServer(t, Options{ConnectTimeout: 20 * time.Millisecond})

	release := dev.Hold(device.OpGetPublicKey)
	rr, body := do(t, s, http.MethodPost, "/connect", "")
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected status 504, got %d body=%#v", rr.Code, body)
	}
	release()

	s2, _, dev2 := newTestServer(t, Options{})
	dev2.SetUnsupported(true)
	rr, body = do(t, s2, http.MethodPost, "/connect", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d body=%#v", rr.Code, body)
	}
	if body["class"] != "transport_unsupported" {
		t.Fatalf("unexpected class: %#v", body["class"])
	}

	rr, body = do(t, s2, http.MethodGet, "/session", "")
	if body["last_error_class"] != "transport_unsupported" || body["last_error"] == "" {
		t.Fatalf("session did not report the failure: %#v", body)
	}
}

func TestSignRoute(t *testing.T) {
	testlog.Start(t)
	s, ctl, dev := newTestServer(t, Options{NetworkPassphrase: stellar.PublicNetworkPassphrase})

	rr, body := do(t, s, http.MethodPost, "/sign", `{"body":"cGF5bWVudA=="}`)
	if rr.Code != http.StatusConflict || body["class"] != "no_active_session" {
		t.Fatalf("expected 409 no_active_session, got %d %#v", rr.Code, body)
	}
	if got := dev.Stats().SignCalls; got != 0 {
		t.Fatalf("device asked to sign without a session")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rr, body = do(t, s, http.MethodPost, "/sign", `{"body":"cGF5bWVudA=="}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp signResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode sign response: %v", err)
	}
	hint, _ := stellar.HintForAddress(resp.PublicKey)
	if resp.Hint != hint.String() || resp.Path != "44'/148'/0'" {
		t.Fatalf("unexpected sign response: %+v", resp)
	}
	env := &stellar.Envelope{NetworkPassphrase: stellar.PublicNetworkPassphrase, Body: []byte("payment")}
	base, err := env.SignatureBase()
	if err != nil {
		t.Fatalf("signature base: %v", err)
	}
	if !stellar.Verify(resp.PublicKey, base, resp.Signature) {
		t.Fatalf("signature does not verify against the configured network")
	}

	dev.SetDeclineSign(true)
	rr, _ = do(t, s, http.MethodPost, "/sign", `{"body":"cGF5bWVudA=="}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for declined signing, got %d", rr.Code)
	}

	rr, _ = do(t, s, http.MethodPost, "/sign", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing body, got %d", rr.Code)
	}
}

func TestDisconnectRoute(t *testing.T) {
	testlog.Start(t)
	s, _, dev := newTestServer(t, Options{})
	if rr, _ := do(t, s, http.MethodPost, "/connect", ""); rr.Code != http.StatusOK {
		t.Fatalf("connect status %d", rr.Code)
	}

	rr, body := do(t, s, http.MethodPost, "/disconnect", "")
	if rr.Code != http.StatusOK || body["connected"] != false {
		t.Fatalf("unexpected disconnect response: %d %#v", rr.Code, body)
	}
	if got := dev.Stats().OpenTransports; got != 0 {
		t.Fatalf("transport left open: %d", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	testlog.Start(t)
	s, _, _ := newTestServer(t, Options{})
	do(t, s, http.MethodGet, "/health", "")

	rr, _ := do(t, s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	out := rr.Body.Bytes()
	for _, name := range []string{"ledgerctl_http_requests_total", "ledgerctl_ledger_connected"} {
		if !bytes.Contains(out, []byte(name)) {
			t.Fatalf("metrics missing %s", name)
		}
	}
}

func TestControlRoutesRequireToken(t *testing.T) {
	testlog.Start(t)
	s, _, dev := newTestServer(t, Options{Token: "s3cret"})

	rr, _ := do(t, s, http.MethodPost, "/connect", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if got := dev.Stats().Opens; got != 0 {
		t.Fatalf("unauthorized request reached the device")
	}
	if rr, _ := do(t, s, http.MethodGet, "/session", ""); rr.Code != http.StatusOK {
		t.Fatalf("read routes should stay open, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/connect", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 with token, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestPreflightAllowsAuthorizationWithToken(t *testing.T) {
	testlog.Start(t)
	for _, tc := range []struct {
		name  string
		token string
		want  bool
	}{
		{name: "token", token: "s3cret", want: true},
		{name: "open", token: "", want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, _, _ := newTestServer(t, Options{Token: tc.token})
			req := httptest.NewRequest(http.MethodOptions, "/sign", nil)
			req.Header.Set("Origin", "http://localhost:3000")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
			rr := httptest.NewRecorder()
			s.HTTPRouter().ServeHTTP(rr, req)

			if rr.Code != http.StatusNoContent {
				t.Fatalf("preflight status got=%d", rr.Code)
			}
			allowed := rr.Header().Get("Access-Control-Allow-Headers")
			if got := strings.Contains(allowed, "Authorization"); got != tc.want {
				t.Fatalf("allow headers %q, want authorization=%v", allowed, tc.want)
			}
		})
	}
}

func TestServeListenerReturnsListenerFailure(t *testing.T) {
	testlog.Start(t)
	s, _, _ := newTestServer(t, Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	baseline := runtime.NumGoroutine()
	if err := s.ServeListener(ctx, ln); err == nil || errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("expected the listener error, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("shutdown watcher still running: goroutines=%d baseline=%d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	s, _, _ := newTestServer(t, Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- s.ServeListener(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
}
