// internal/fallback/manager_test.go
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/FairForge/cryptgate/internal/cache"
	"github.com/FairForge/cryptgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type staticSource struct {
	entries []cache.Entry
	err     error
}

func (s staticSource) ReadAll() ([]cache.Entry, error) { return s.entries, s.err }

type write struct {
	instanceURL  string
	resourceType string
	data         string
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []write
	failOn map[string]bool
}

func (w *recordingWriter) Write(ctx context.Context, inst config.Instance, resourceType, encryptedData string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if w.failOn[encryptedData] {
		return "", errors.New("backend unavailable")
	}
	w.writes = append(w.writes, write{inst.URL, resourceType, encryptedData})
	return "id", nil
}

type recordingSender struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, content)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func testConfig() config.FallbackConfig {
	return config.FallbackConfig{
		URL:           "http://localhost:8001",
		DBPrefix:      "test_",
		TTL:           48 * time.Hour,
		CheckInterval: time.Hour,
		Timeout:       time.Second,
	}
}

func encryptEntry(data, ciphertext string) cache.Entry {
	return cache.Entry{
		Timestamp: time.Unix(1700000000, 0),
		Record:    cache.EncryptRecord{Data: data, Password: "pw", ResourceType: "notes", EncryptedData: ciphertext},
	}
}

func TestManager_CreateTestInstance(t *testing.T) {
	t.Run("creates a fresh record with ttl", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1700000000, 0)}
		m := NewManager(testConfig(), staticSource{}, &recordingWriter{}, zap.NewNop(), WithClock(clock.Now))

		inst, created, err := m.CreateTestInstance(context.Background())
		require.NoError(t, err)

		assert.True(t, created)
		assert.Equal(t, Created, inst.State)
		assert.Equal(t, "http://localhost:8001", inst.URL)
		assert.Equal(t, "test_", inst.DBPrefix)
		assert.Equal(t, clock.Now(), inst.CreatedAt)
		assert.Equal(t, clock.Now().Add(48*time.Hour), inst.ExpiresAt)
		assert.NotEmpty(t, inst.ID)
	})

	t.Run("reuses a live record", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1700000000, 0)}
		m := NewManager(testConfig(), staticSource{}, &recordingWriter{}, zap.NewNop(), WithClock(clock.Now))

		first, _, err := m.CreateTestInstance(context.Background())
		require.NoError(t, err)

		clock.Advance(47 * time.Hour)
		second, created, err := m.CreateTestInstance(context.Background())
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("replaces an expired record", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1700000000, 0)}
		m := NewManager(testConfig(), staticSource{}, &recordingWriter{}, zap.NewNop(),
			WithClock(clock.Now), WithNotifier(&recordingSender{}))

		first, _, err := m.CreateTestInstance(context.Background())
		require.NoError(t, err)

		clock.Advance(49 * time.Hour)
		m.PeriodicCheck(context.Background())

		second, created, err := m.CreateTestInstance(context.Background())
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, Created, second.State)
	})

	t.Run("provisioner failure leaves the slot empty", func(t *testing.T) {
		m := NewManager(testConfig(), staticSource{}, &recordingWriter{}, zap.NewNop(),
			WithProvisioner(failingProvisioner{}))

		_, _, err := m.CreateTestInstance(context.Background())
		assert.Error(t, err)

		_, ok := m.Current()
		assert.False(t, ok)
	})
}

type failingProvisioner struct{}

func (failingProvisioner) Provision(context.Context, string) (string, error) {
	return "", errors.New("no capacity")
}

func TestManager_ImportCacheData(t *testing.T) {
	id := "7"
	source := staticSource{entries: []cache.Entry{
		encryptEntry("a", "c1"),
		{Timestamp: time.Unix(1700000001, 0), Record: cache.DecryptRecord{EncryptedData: "c1", ResourceID: &id, DecryptedData: "a"}},
		encryptEntry("b", "c2"),
		encryptEntry("c", "c3"),
	}}
	writer := &recordingWriter{failOn: map[string]bool{"c2": true}}
	m := NewManager(testConfig(), source, writer, zap.NewNop())

	report, err := m.ImportCacheData(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.FailedCount())
	require.Len(t, writer.writes, 2)
	assert.Equal(t, write{"http://localhost:8001", "test_notes", "c1"}, writer.writes[0])
	assert.Equal(t, write{"http://localhost:8001", "test_notes", "c3"}, writer.writes[1])

	inst, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, report.InstanceID, inst.ID)
}

func TestManager_ImportCacheDataReadError(t *testing.T) {
	m := NewManager(testConfig(), staticSource{err: errors.New("disk gone")}, &recordingWriter{}, zap.NewNop())

	_, err := m.ImportCacheData(context.Background())
	assert.Error(t, err)
}

func TestManager_HandleOutage(t *testing.T) {
	source := staticSource{entries: []cache.Entry{encryptEntry("a", "c1")}}
	writer := &recordingWriter{}
	m := NewManager(testConfig(), source, writer, zap.NewNop())

	require.NoError(t, m.HandleOutage(context.Background()))
	assert.Len(t, writer.writes, 1)

	// the record already exists, so nothing is replayed again
	require.NoError(t, m.HandleOutage(context.Background()))
	assert.Len(t, writer.writes, 1)
}

func TestManager_HandleOutageOutlivesRequest(t *testing.T) {
	source := staticSource{entries: []cache.Entry{encryptEntry("a", "c1"), encryptEntry("b", "c2")}}
	writer := &recordingWriter{}
	m := NewManager(testConfig(), source, writer, zap.NewNop())

	// the client hung up before the outage was handled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, m.HandleOutage(ctx))
	require.Len(t, writer.writes, 2)
	assert.Equal(t, "c1", writer.writes[0].data)
	assert.Equal(t, "c2", writer.writes[1].data)

	inst, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, Created, inst.State)
}

func TestManager_PeriodicCheck(t *testing.T) {
	t.Run("no record is a no-op", func(t *testing.T) {
		sender := &recordingSender{}
		m := NewManager(testConfig(), staticSource{}, &recordingWriter{}, zap.NewNop(), WithNotifier(sender))

		m.PeriodicCheck(context.Background())
		assert.Equal(t, 0, sender.count())
	})

	t.Run("expires once and alerts once", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1700000000, 0)}
		sender := &recordingSender{err: errors.New("webhook down")}
		m := NewManager(testConfig(), staticSource{}, &recordingWriter{}, zap.NewNop(),
			WithClock(clock.Now), WithNotifier(sender))

		_, _, err := m.CreateTestInstance(context.Background())
		require.NoError(t, err)

		clock.Advance(48 * time.Hour)
		m.PeriodicCheck(context.Background())
		inst, _ := m.Current()
		assert.Equal(t, Created, inst.State)

		clock.Advance(time.Second)
		m.PeriodicCheck(context.Background())
		inst, _ = m.Current()
		assert.Equal(t, Expired, inst.State)
		assert.Equal(t, 1, sender.count())

		m.PeriodicCheck(context.Background())
		assert.Equal(t, 1, sender.count())
	})
}

func TestManager_Run(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	sender := &recordingSender{}
	cfg := testConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	m := NewManager(cfg, staticSource{}, &recordingWriter{}, zap.NewNop(), WithClock(clock.Now), WithNotifier(sender))

	_, _, err := m.CreateTestInstance(context.Background())
	require.NoError(t, err)
	clock.Advance(49 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	assert.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNotifier_Send(t *testing.T) {
	t.Run("posts a text message", func(t *testing.T) {
		var got map[string]interface{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		}))
		defer srv.Close()

		err := NewNotifier(srv.URL, zap.NewNop()).Send(context.Background(), "fallback expired")
		require.NoError(t, err)

		assert.Equal(t, "text", got["msgtype"])
		assert.Equal(t, map[string]interface{}{"content": "fallback expired"}, got["text"])
	})

	t.Run("empty url does nothing", func(t *testing.T) {
		assert.NoError(t, NewNotifier("", zap.NewNop()).Send(context.Background(), "x"))
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		assert.Error(t, NewNotifier(srv.URL, zap.NewNop()).Send(context.Background(), "x"))
	})
}
