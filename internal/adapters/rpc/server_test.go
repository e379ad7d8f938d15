package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"enginelink/go-backend/internal/simengine"
	"enginelink/go-backend/internal/testutil/fsperm"
	"enginelink/go-backend/internal/wire"
)

func newTestServer(t *testing.T, opts Options) (*Server, *simengine.Session) {
	t.Helper()
	session := simengine.New("/work")
	session.RegisterDemo()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s, err := NewServer(session, opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, session
}

func rpcCall(t *testing.T, s *Server, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rpc response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func decodeValues(t *testing.T, resp Response) []any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	var result ValuesResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode values: %v", err)
	}
	values, err := wire.DecodeAll(result.Values)
	if err != nil {
		t.Fatalf("decode wire values: %v", err)
	}
	return values
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionMethodsRoundTrip(t *testing.T) {
	s, session := newTestServer(t, Options{})

	set := `{"jsonrpc":"2.0","id":1,"method":"session.set_variable","params":{"name":"x","value":{"kind":"double[]","data":[1,5,3]}}}`
	if resp := decodeResponse(t, rpcCall(t, s, set, "")); resp.Error != nil {
		t.Fatalf("set_variable: %+v", resp.Error)
	}
	eval := `{"jsonrpc":"2.0","id":2,"method":"session.eval","params":{"script":"[m, i] = max(x);"}}`
	if resp := decodeResponse(t, rpcCall(t, s, eval, "")); resp.Error != nil {
		t.Fatalf("eval: %+v", resp.Error)
	}
	if v, ok := session.Variable("i"); !ok || v.([]float64)[0] != 2 {
		t.Fatalf("eval did not run in the session: %#v", v)
	}

	get := decodeResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":3,"method":"session.get_variable","params":{"name":"m"}}`, ""))
	var value ValueResult
	if err := json.Unmarshal(get.Result, &value); err != nil {
		t.Fatalf("decode get result: %v", err)
	}
	if value.Value.Kind != wire.KindDoubles || string(value.Value.Data) != "[5]" {
		t.Fatalf("unexpected value %+v", value.Value)
	}

	who := decodeValues(t, decodeResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":4,"method":"session.returning_eval","params":{"script":"who","nargout":1}}`, "")))
	if got := who[0].([]string); strings.Join(got, ",") != "i,m,x" {
		t.Fatalf("unexpected who %v", got)
	}

	sum := decodeValues(t, decodeResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":5,"method":"session.returning_feval","params":{"name":"sum","nargout":1,"args":[{"kind":"double[]","data":[2,3]}]}}`, "")))
	if sum[0].([]float64)[0] != 5 {
		t.Fatalf("unexpected sum %#v", sum)
	}

	cd := `{"jsonrpc":"2.0","id":6,"method":"session.feval","params":{"name":"cd","args":[{"kind":"char","data":"/scripts"}]}}`
	if resp := decodeResponse(t, rpcCall(t, s, cd, "")); resp.Error != nil {
		t.Fatalf("feval: %+v", resp.Error)
	}
	if session.CurrentDir() != "/scripts" {
		t.Fatalf("feval did not change directory: %s", session.CurrentDir())
	}
}

func TestInvocationErrorsAreReported(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	resp := decodeResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"session.eval","params":{"script":"nope(1);"}}`, ""))
	if resp.Error == nil || resp.Error.Code != CodeInvocation {
		t.Fatalf("expected invocation error, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "nope") {
		t.Fatalf("message lacks detail: %q", resp.Error.Message)
	}
}

func TestInvalidRequests(t *testing.T) {
	s, session := newTestServer(t, Options{})
	cases := []struct {
		body string
		code int
	}{
		{`{`, CodeParseError},
		{`{"jsonrpc":"1.0","id":1,"method":"session.eval"}`, CodeInvalidRequest},
		{`{"jsonrpc":"2.0","id":1,"method":"session.eval","params":{}} {}`, CodeInvalidRequest},
		{`{"jsonrpc":"2.0","id":1,"method":"session.nope","params":{}}`, CodeMethodNotFound},
		{`{"jsonrpc":"2.0","id":1,"method":"session.eval","params":{"script":""}}`, CodeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"session.eval","params":{"script":"x","extra":1}}`, CodeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"session.eval","params":{"script":"x","nargout":1}}`, CodeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"session.returning_eval","params":{"script":"x","nargout":-1}}`, CodeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"session.get_variable","params":{"name":"1x"}}`, CodeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"session.set_variable","params":{"name":"x"}}`, CodeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"session.set_variable","params":{"name":"x","value":{"kind":"struct"}}}`, CodeInvalidParams},
	}
	for _, tc := range cases {
		resp := decodeResponse(t, rpcCall(t, s, tc.body, ""))
		if resp.Error == nil || resp.Error.Code != tc.code {
			t.Fatalf("%s: expected code %d, got %+v", tc.body, tc.code, resp.Error)
		}
	}
	if len(session.Transcript()) != 0 {
		t.Fatal("invalid requests must not reach the session")
	}
}

func TestTokenAuth(t *testing.T) {
	s, _ := newTestServer(t, Options{Token: "secret-token", RequireToken: true})
	body := `{"jsonrpc":"2.0","id":1,"method":"health_check"}`
	if rec := rpcCall(t, s, body, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := rpcCall(t, s, body, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
	if rec := rpcCall(t, s, body, "secret-token"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected bearer token to be accepted, got %d", rec.Code)
	}
}

func TestRequireTokenWithoutTokenFails(t *testing.T) {
	if _, err := NewServer(simengine.New("/"), Options{RequireToken: true}); err == nil {
		t.Fatal("expected error when a token is required but missing")
	}
}

func TestAutoTokenIsGeneratedAndPersisted(t *testing.T) {
	file := filepath.Join(t.TempDir(), "token")
	s, _ := newTestServer(t, Options{Token: AutoToken, TokenFile: file, RequireToken: true})
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	fsperm.AssertPrivateFilePerm(t, file)
	token := string(data)
	if !strings.HasPrefix(token, "rpc_") || len(token) != len("rpc_")+64 {
		t.Fatalf("unexpected generated token %q", token)
	}
	if rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"health_check"}`, token); rec.Code != http.StatusOK {
		t.Fatalf("generated token rejected: %d", rec.Code)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	s, _ := newTestServer(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 2})
	body := `{"jsonrpc":"2.0","id":1,"method":"health_check"}`
	for i := range 2 {
		if rec := rpcCall(t, s, body, ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := rpcCall(t, s, body, ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	s, _ := newTestServer(t, Options{MaxBodyBytes: 64})
	body := `{"jsonrpc":"2.0","id":1,"method":"session.eval","params":{"script":"` + strings.Repeat("x", 100) + `"}}`
	if rec := rpcCall(t, s, body, ""); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestCORSRejectsForeignOrigin(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if !isAllowedOrigin("http://localhost:3000", false) || isAllowedOrigin("null", false) || !isAllowedOrigin("null", true) {
		t.Fatal("unexpected origin policy")
	}
}

func TestRequestIDAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, _ := newTestServer(t, Options{Registerer: reg, Gatherer: reg})
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":"abc","method":"rpc.version"}`))
	req.Header.Set(RequestIDHeader, "ui.42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "ui.42" {
		t.Fatalf("request id not echoed: %q", got)
	}
	rec = rpcCall(t, s, `{"jsonrpc":"2.0","id":"abc","method":"rpc.version"}`, "")
	if got := rec.Header().Get(RequestIDHeader); got != "rpc.abc" {
		t.Fatalf("unexpected fallback request id %q", got)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `enginelink_rpc_requests_total{method="rpc.version",result="ok"} 2`) {
		t.Fatalf("request counter missing from metrics:\n%s", rec.Body.String())
	}
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := rateLimitKey(req, ""); got != "ip:10.1.2.3" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := rateLimitKey(req, "tok"); got != "token:tok" {
		t.Fatalf("unexpected key %q", got)
	}
}
