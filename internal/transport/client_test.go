package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func jsonRPCServer(t *testing.T, handle func(req captured) (result any, rpcErr *RPCError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req captured
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, rpcErr := handle(req)
		status := http.StatusOK
		if rpcErr != nil {
			status = http.StatusInternalServerError
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": rpcErr, "id": req.ID})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCallHTTPPositional(t *testing.T) {
	var got captured
	srv := jsonRPCServer(t, func(req captured) (any, *RPCError) {
		got = req
		return 1234, nil
	})

	c, err := New(Config{Endpoint: srv.URL, Dialect: JSONRPC1, User: "u", Password: "p"}, nil)
	require.NoError(t, err)

	raw, err := c.Call(context.Background(), "getblockcount", nil)
	require.NoError(t, err)
	assert.JSONEq(t, "1234", string(raw))
	assert.Equal(t, "1.0", got.JSONRPC)
	assert.Equal(t, "getblockcount", got.Method)
	assert.JSONEq(t, "[]", string(got.Params))
	assert.NotEmpty(t, got.ID)
}

func TestCallHTTPRPCError(t *testing.T) {
	srv := jsonRPCServer(t, func(req captured) (any, *RPCError) {
		return nil, &RPCError{Code: -32601, Message: "Method not found"}
	})
	c, err := New(Config{Endpoint: srv.URL, Dialect: JSONRPC1}, nil)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "nosuchmethod", []any{})
	require.Error(t, err)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32601, rpcErr.Code)
	assert.Equal(t, "nosuchmethod", rpcErr.Method)
	assert.False(t, IsTimeout(err))
}

func TestCallTimeoutIsDistinct(t *testing.T) {
	release := make(chan struct{})
	srv := jsonRPCServer(t, func(req captured) (any, *RPCError) {
		<-release
		return "late", nil
	})
	defer close(release)

	c, err := New(Config{Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Call(ctx, "getinfo", nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
	assert.False(t, IsRPCError(err))
}

func TestCallConfiguredTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := jsonRPCServer(t, func(req captured) (any, *RPCError) {
		<-release
		return nil, nil
	})
	defer close(release)

	c, err := New(Config{Endpoint: srv.URL, Timeout: 30 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "getinfo", nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCallConcurrent(t *testing.T) {
	srv := jsonRPCServer(t, func(req captured) (any, *RPCError) {
		return req.Method, nil
	})
	c, err := New(Config{Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := c.Call(context.Background(), "echo", map[string]any{})
			if err != nil {
				errs <- err
				return
			}
			if string(raw) != `"echo"` {
				errs <- errors.New("unexpected result " + string(raw))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCallUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpc")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var req captured
		if err := json.NewDecoder(conn).Decode(&req); err != nil {
			return
		}
		enc := json.NewEncoder(conn)
		_ = enc.Encode(map[string]any{"jsonrpc": "2.0", "method": "log", "params": map[string]any{}})
		_ = enc.Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"id": "02ab"}})
	}()

	c, err := New(Config{Endpoint: "unix://" + path}, nil)
	require.NoError(t, err)

	raw, err := c.Call(context.Background(), "getinfo", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"02ab"}`, string(raw))
}

func TestCallMissingResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "getinfo", nil)
	assert.ErrorIs(t, err, ErrMissingResult)
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	_, err := New(Config{Endpoint: "ftp://node"}, nil)
	assert.Error(t, err)

	_, err = New(Config{}, nil)
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ETHOS_TEST_URL", "http://127.0.0.1:18443")
	t.Setenv("ETHOS_TEST_USER", "alice")
	t.Setenv("ETHOS_TEST_TIMEOUT", "3s")

	cfg := ConfigFromEnv("ETHOS_TEST", JSONRPC1)
	assert.Equal(t, "http://127.0.0.1:18443", cfg.Endpoint)
	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, JSONRPC1, cfg.Dialect)
}
