package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newRPCServer(t *testing.T, handler func(method string, params []any) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad rpc request: %v", err)
			return
		}
		if req.JSONRPC != "2.0" || req.ID == 0 {
			t.Errorf("malformed rpc envelope: %+v", req)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestCurrentEpoch(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []any) (any, *rpcError) {
		if method != "suix_getLatestSuiSystemState" {
			t.Errorf("unexpected method %q", method)
		}
		return map[string]any{"epoch": "412"}, nil
	})
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	epoch, err := client.CurrentEpoch(context.Background())
	if err != nil {
		t.Fatalf("epoch read failed: %v", err)
	}
	if epoch != 412 {
		t.Fatalf("expected epoch 412, got %d", epoch)
	}
}

func TestCurrentEpochRejectsUnparseableValue(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []any) (any, *rpcError) {
		return map[string]any{"epoch": "not-a-number"}, nil
	})
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	if _, err := client.CurrentEpoch(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExecuteTransactionSuccess(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []any) (any, *rpcError) {
		if method != "sui_executeTransactionBlock" {
			t.Errorf("unexpected method %q", method)
		}
		if len(params) != 4 || params[0] != "dHg=" {
			t.Errorf("unexpected params: %v", params)
		}
		return map[string]any{
			"digest": "Abc123",
			"effects": map[string]any{
				"status": map[string]any{"status": "success"},
			},
		}, nil
	})
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	result, err := client.ExecuteTransaction(context.Background(), "dHg=", "sig")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Digest != "Abc123" || result.Status != "success" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteTransactionNodeRejection(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []any) (any, *rpcError) {
		return map[string]any{
			"digest": "Abc123",
			"effects": map[string]any{
				"status": map[string]any{"status": "failure", "error": "InsufficientGas"},
			},
		}, nil
	})
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	result, err := client.ExecuteTransaction(context.Background(), "dHg=", "sig")
	if !errors.Is(err, ErrTransactionExecution) {
		t.Fatalf("expected ErrTransactionExecution, got %v", err)
	}
	if result == nil || result.Error != "InsufficientGas" {
		t.Fatalf("node failure details must be returned alongside the error: %+v", result)
	}
}

func TestCallSurfacesRPCError(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []any) (any, *rpcError) {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	})
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	if _, err := client.CurrentEpoch(context.Background()); err == nil {
		t.Fatal("expected rpc error")
	}
}

func TestCallRejectsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	if _, err := client.CurrentEpoch(context.Background()); err == nil {
		t.Fatal("expected http error")
	}
}
