// internal/backend/client_test.go
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FairForge/cryptgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient() *Client {
	return NewClient(zap.NewNop(),
		WithRetryPolicy(NewRetryPolicy(zap.NewNop(), WithInitialDelay(time.Millisecond), WithJitter(false))))
}

func instanceFor(srv *httptest.Server) config.Instance {
	return config.Instance{ID: "crud-01", URL: srv.URL, Role: config.RoleMixed, Timeout: time.Second}
}

func TestClient_Write(t *testing.T) {
	t.Run("posts the record and returns the assigned id", func(t *testing.T) {
		var got Record
		var path string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"success":true,"message":"created","data":{"id":"res-42"}}`))
		}))
		defer srv.Close()

		id, err := newTestClient().Write(context.Background(), instanceFor(srv), "notes", "c2VjcmV0")

		require.NoError(t, err)
		assert.Equal(t, "res-42", id)
		assert.Equal(t, "/notes", path)
		assert.Equal(t, "c2VjcmV0", got.EncryptedData)
		assert.Equal(t, "notes", got.ResourceType)
		_, err = time.Parse(time.RFC3339, got.CreatedAt)
		assert.NoError(t, err)
		assert.Equal(t, got.CreatedAt, got.UpdatedAt)
	})

	t.Run("numeric ids are accepted", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"message":"","data":{"id":17}}`))
		}))
		defer srv.Close()

		id, err := newTestClient().Write(context.Background(), instanceFor(srv), "notes", "x")
		require.NoError(t, err)
		assert.Equal(t, "17", id)
	})

	t.Run("missing id is not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"message":"ok","data":null}`))
		}))
		defer srv.Close()

		id, err := newTestClient().Write(context.Background(), instanceFor(srv), "notes", "x")
		require.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"message":"","data":{"id":"late"}}`))
		}))
		defer srv.Close()

		inst := instanceFor(srv)
		inst.RetryCount = 2

		id, err := newTestClient().Write(context.Background(), inst, "notes", "x")
		require.NoError(t, err)
		assert.Equal(t, "late", id)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"message":"bad resource type"}`))
		}))
		defer srv.Close()

		inst := instanceFor(srv)
		inst.RetryCount = 3

		_, err := newTestClient().Write(context.Background(), inst, "notes", "x")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBackendCall))

		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusBadRequest, se.Code)
		assert.Equal(t, "bad resource type", se.Message)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("timeout is a backend failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer srv.Close()

		inst := instanceFor(srv)
		inst.Timeout = 20 * time.Millisecond

		_, err := newTestClient().Write(context.Background(), inst, "notes", "x")
		assert.ErrorIs(t, err, ErrBackendCall)
	})

	t.Run("unreachable instance", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		inst := instanceFor(srv)
		srv.Close()

		_, err := newTestClient().Write(context.Background(), inst, "notes", "x")
		assert.ErrorIs(t, err, ErrBackendCall)
	})
}

func TestClient_Read(t *testing.T) {
	t.Run("returns the stored ciphertext", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/notes/res-42", r.URL.Path)
			assert.Equal(t, "encrypted_data", r.URL.Query().Get("select"))
			_, _ = w.Write([]byte(`{"success":true,"message":"","data":{"encrypted_data":"Y2lwaGVy"}}`))
		}))
		defer srv.Close()

		data, err := newTestClient().Read(context.Background(), instanceFor(srv), "notes", "res-42")
		require.NoError(t, err)
		assert.Equal(t, "Y2lwaGVy", data)
	})

	t.Run("missing encrypted_data is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"message":"","data":{}}`))
		}))
		defer srv.Close()

		_, err := newTestClient().Read(context.Background(), instanceFor(srv), "notes", "res-42")
		assert.ErrorIs(t, err, ErrBackendCall)
	})

	t.Run("not found", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		_, err := newTestClient().Read(context.Background(), instanceFor(srv), "notes", "missing")
		assert.ErrorIs(t, err, ErrBackendCall)
	})
}

func TestClient_Probe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		healthy bool
	}{
		{"ok", http.StatusOK, `{"status":"ok"}`, true},
		{"degraded status value", http.StatusOK, `{"status":"degraded"}`, false},
		{"unparseable body", http.StatusOK, `not json`, false},
		{"server error", http.StatusInternalServerError, `{"status":"ok"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := newTestClient().Probe(context.Background(), instanceFor(srv))
			if tt.healthy {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrBackendCall)
			}
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	policy := NewRetryPolicy(zap.NewNop(), WithInitialDelay(time.Millisecond), WithJitter(false))

	t.Run("zero retries means one attempt", func(t *testing.T) {
		calls := 0
		err := policy.Execute(context.Background(), 0, func() error {
			calls++
			return errors.New("boom")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := policy.Execute(ctx, 3, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("delay is capped", func(t *testing.T) {
		p := NewRetryPolicy(zap.NewNop(), WithInitialDelay(time.Second), WithMaxDelay(2*time.Second), WithJitter(false))
		assert.Equal(t, time.Second, p.calculateDelay(0))
		assert.Equal(t, 2*time.Second, p.calculateDelay(5))
	})
}
