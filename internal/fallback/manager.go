// internal/fallback/manager.go
package fallback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/cryptgate/internal/cache"
	"github.com/FairForge/cryptgate/internal/config"
	"github.com/FairForge/cryptgate/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EntrySource supplies cached operations for replay
type EntrySource interface {
	ReadAll() ([]cache.Entry, error)
}

// Writer stores ciphertext on a backend
type Writer interface {
	Write(ctx context.Context, inst config.Instance, resourceType, encryptedData string) (string, error)
}

// ImportReport summarises a cache replay
type ImportReport struct {
	InstanceID string
	Imported   int
	Skipped    int
	// Failed holds one error per entry that could not be written
	Failed error
}

// FailedCount returns how many entries failed to replay
func (r *ImportReport) FailedCount() int {
	return len(multierr.Errors(r.Failed))
}

// Manager owns the single fallback instance slot. The lock is never
// held across provisioning, replay or notification.
type Manager struct {
	cfg         config.FallbackConfig
	source      EntrySource
	writer      Writer
	provisioner Provisioner
	notifier    Sender
	logger      *zap.Logger
	metrics     *metrics.Collector
	now         func() time.Time

	mu      sync.RWMutex
	current *Instance
}

// Option configures the manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithProvisioner replaces the static provisioner
func WithProvisioner(p Provisioner) Option {
	return func(m *Manager) {
		m.provisioner = p
	}
}

// WithNotifier sets the alert sender
func WithNotifier(s Sender) Option {
	return func(m *Manager) {
		m.notifier = s
	}
}

// WithMetrics records creations and replays
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// NewManager creates a fallback manager replaying from source through writer
func NewManager(cfg config.FallbackConfig, source EntrySource, writer Writer, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		source:      source,
		writer:      writer,
		provisioner: StaticProvisioner{URL: cfg.URL},
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = NewNotifier(cfg.WebhookURL, logger)
	}
	return m
}

// Current returns a copy of the fallback record, if any
func (m *Manager) Current() (Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return Instance{}, false
	}
	return *m.current, true
}

// usable reports whether the slot holds a Created record that has not
// passed its expiry
func (m *Manager) usable(now time.Time) (Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current != nil && m.current.State == Created && now.Before(m.current.ExpiresAt) {
		return *m.current, true
	}
	return Instance{}, false
}

// CreateTestInstance returns the live fallback record, creating a fresh
// one when none exists or the existing one is expired. created reports
// whether this call installed the record.
func (m *Manager) CreateTestInstance(ctx context.Context) (Instance, bool, error) {
	if inst, ok := m.usable(m.now()); ok {
		return inst, false, nil
	}

	id := "fallback-" + uuid.NewString()
	url, err := m.provisioner.Provision(ctx, id)
	if err != nil {
		return Instance{}, false, fmt.Errorf("provision fallback instance: %w", err)
	}

	now := m.now()
	fresh := &Instance{
		ID:        id,
		URL:       url,
		DBPrefix:  m.cfg.DBPrefix,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
		State:     Created,
	}

	m.mu.Lock()
	if m.current != nil && m.current.State == Created && now.Before(m.current.ExpiresAt) {
		// another caller installed one while we were provisioning
		existing := *m.current
		m.mu.Unlock()
		return existing, false, nil
	}
	m.current = fresh
	m.mu.Unlock()

	m.metrics.RecordFallbackCreated()
	m.logger.Info("fallback instance created",
		zap.String("instance_id", fresh.ID),
		zap.String("url", fresh.URL),
		zap.Time("expires_at", fresh.ExpiresAt))

	return *fresh, true, nil
}

// HandleOutage is called when no configured instance can take a write.
// It makes sure a fallback instance exists and replays the cache into it
// when the instance was just created.
func (m *Manager) HandleOutage(ctx context.Context) error {
	inst, created, err := m.CreateTestInstance(ctx)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	// The record is now Created and later outages reuse it without
	// replaying, so the replay must outlive the triggering request.
	report, err := m.importInto(context.WithoutCancel(ctx), inst)
	if err != nil {
		return err
	}
	if report.Failed != nil {
		m.logger.Warn("some cache entries were not replayed",
			zap.String("instance_id", inst.ID),
			zap.Int("failed", report.FailedCount()),
			zap.Error(report.Failed))
	}
	return nil
}

// ImportCacheData replays every cached encrypt record into the fallback
// instance, creating one first if needed. Per-entry failures are
// collected in the report and never abort the batch.
func (m *Manager) ImportCacheData(ctx context.Context) (*ImportReport, error) {
	inst, _, err := m.CreateTestInstance(ctx)
	if err != nil {
		return nil, err
	}
	return m.importInto(ctx, inst)
}

func (m *Manager) importInto(ctx context.Context, inst Instance) (*ImportReport, error) {
	entries, err := m.source.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	m.logger.Info("replaying cache into fallback instance",
		zap.String("instance_id", inst.ID),
		zap.Int("entries", len(entries)))

	target := config.Instance{
		ID:      inst.ID,
		URL:     inst.URL,
		Role:    config.RoleMixed,
		Timeout: m.cfg.Timeout,
	}

	report := &ImportReport{InstanceID: inst.ID}
	for i, entry := range entries {
		rec, ok := entry.Record.(cache.EncryptRecord)
		if !ok {
			// decrypt records carry nothing to store
			report.Skipped++
			continue
		}

		if _, err := m.writer.Write(ctx, target, inst.DBPrefix+rec.ResourceType, rec.EncryptedData); err != nil {
			report.Failed = multierr.Append(report.Failed, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		report.Imported++
	}

	m.metrics.RecordReplay(report.Imported, report.FailedCount())
	m.logger.Info("cache replay finished",
		zap.String("instance_id", inst.ID),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.FailedCount()))

	return report, nil
}

// PeriodicCheck marks the fallback instance Expired once its TTL has
// passed and alerts the operator. The alert is best-effort.
func (m *Manager) PeriodicCheck(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	if m.current == nil || m.current.State == Expired || !now.After(m.current.ExpiresAt) {
		m.mu.Unlock()
		return
	}
	m.current.State = Expired
	expired := *m.current
	m.mu.Unlock()

	m.logger.Info("fallback instance expired",
		zap.String("instance_id", expired.ID),
		zap.Time("expires_at", expired.ExpiresAt))

	msg := fmt.Sprintf("Fallback instance %s has been up for more than %s, please handle it.",
		expired.ID, m.cfg.TTL)
	if err := m.notifier.Send(ctx, msg); err != nil {
		m.logger.Warn("failed to send expiry alert", zap.Error(err))
	}
}

// Run checks for expiry on the configured interval until ctx is done
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.PeriodicCheck(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
