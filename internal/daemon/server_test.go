package daemon

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/EdisonARUI/Membership-MVP-sub000/internal/config"
)

func fakeIDToken(t *testing.T) string {
	t.Helper()
	encode := func(v map[string]any) string {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal segment: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(raw)
	}
	header := encode(map[string]any{"alg": "RS256", "typ": "JWT"})
	payload := encode(map[string]any{
		"iss": "https://accounts.google.com",
		"sub": "user-123",
		"aud": "client-abc",
	})
	return header + "." + payload + ".sig"
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestDaemonLoginAndSignFlow(t *testing.T) {
	saltSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"salt":"000102030405060708090a0b0c0d0e0f"}`))
	}))
	defer saltSrv.Close()

	proverSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"proofPoints": {"a": ["1"], "b": [["2"]], "c": ["3"]},
			"issBase64Details": {"value": "aXNz", "indexMod4": 2},
			"headerBase64": "aGVhZGVy"
		}`))
	}))
	defer proverSrv.Close()

	nodeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad node request: %v", err)
			return
		}
		switch req.Method {
		case "sui_executeTransactionBlock":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"digest":"Dig123","effects":{"status":{"status":"success"}}}}`))
		default:
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"epoch":"5"}}`))
		}
	}))
	defer nodeSrv.Close()

	cfg := config.Default()
	cfg.SaltServiceURL = saltSrv.URL
	cfg.ProverURL = proverSrv.URL
	cfg.FullnodeURL = nodeSrv.URL
	cfg.RequestTimeout = 2 * time.Second
	cfg.RateLimitRPS = 100
	cfg.RateLimitBurst = 100

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("server init failed: %v", err)
	}
	api := httptest.NewServer(srv.httpServer.Handler)
	defer api.Close()

	// Nothing persisted yet.
	resp, _ := getJSON(t, api.URL+"/v1/address")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before login, got %d", resp.StatusCode)
	}

	resp, body := postJSON(t, api.URL+"/v1/prepare", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prepare failed: %d %v", resp.StatusCode, body)
	}
	if nonce, _ := body["nonce"].(string); nonce == "" {
		t.Fatalf("expected nonce, got %v", body)
	}

	resp, body = postJSON(t, api.URL+"/v1/callback", map[string]any{"idToken": fakeIDToken(t)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback failed: %d %v", resp.StatusCode, body)
	}
	address, _ := body["address"].(string)
	if !strings.HasPrefix(address, "0x") {
		t.Fatalf("expected derived address, got %v", body)
	}

	resp, body = getJSON(t, api.URL+"/v1/status")
	if resp.StatusCode != http.StatusOK || body["state"] != "authenticated" {
		t.Fatalf("unexpected status: %d %v", resp.StatusCode, body)
	}

	txB64 := base64.StdEncoding.EncodeToString([]byte("tx-payload"))
	resp, body = postJSON(t, api.URL+"/v1/sign", map[string]any{"txBytesBase64": txB64})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign failed: %d %v", resp.StatusCode, body)
	}
	if sig, _ := body["signature"].(string); sig == "" {
		t.Fatalf("expected composite signature, got %v", body)
	}

	resp, body = postJSON(t, api.URL+"/v1/execute", map[string]any{"txBytesBase64": txB64})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute failed: %d %v", resp.StatusCode, body)
	}
	if body["digest"] != "Dig123" || body["status"] != "success" {
		t.Fatalf("unexpected execute result: %v", body)
	}

	resp, body = getJSON(t, api.URL+"/v1/salt-backup")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("salt backup failed: %d %v", resp.StatusCode, body)
	}
	if mnemonic, _ := body["mnemonic"].(string); len(strings.Fields(mnemonic)) != 12 {
		t.Fatalf("expected 12 word mnemonic, got %v", body)
	}

	// A salt is present; restore must be refused.
	resp, _ = postJSON(t, api.URL+"/v1/salt-restore", map[string]any{"mnemonic": "abandon"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 restoring over existing salt, got %d", resp.StatusCode)
	}

	resp, body = postJSON(t, api.URL+"/v1/clear", nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "idle" {
		t.Fatalf("clear failed: %d %v", resp.StatusCode, body)
	}

	// Signing without a session is a state conflict, not a server error.
	resp, _ = postJSON(t, api.URL+"/v1/sign", map[string]any{"txBytesBase64": txB64})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 signing from idle, got %d", resp.StatusCode)
	}
}
