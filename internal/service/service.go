// internal/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/FairForge/cryptgate/internal/cache"
	"github.com/FairForge/cryptgate/internal/config"
	"github.com/FairForge/cryptgate/internal/fallback"
	"github.com/FairForge/cryptgate/internal/scheduler"
	"go.uber.org/zap"
)

// ErrOperationNotPermitted is returned when the service role forbids the
// requested operation
var ErrOperationNotPermitted = errors.New("operation not permitted for this service role")

// Cipher transforms data under a password
type Cipher interface {
	Encrypt(plaintext, password string) (string, error)
	Decrypt(ciphertext, password string) (string, error)
}

// Selector picks a backend instance
type Selector interface {
	Select(isWrite bool) (config.Instance, error)
	InstanceStatuses() []scheduler.InstanceStatus
}

// Backend stores and fetches ciphertext
type Backend interface {
	Write(ctx context.Context, inst config.Instance, resourceType, encryptedData string) (string, error)
	Read(ctx context.Context, inst config.Instance, resourceType, resourceID string) (string, error)
}

// Cache durably records completed operations
type Cache interface {
	Write(rec cache.Record) error
}

// Fallback reacts to a total outage
type Fallback interface {
	HandleOutage(ctx context.Context) error
	Current() (fallback.Instance, bool)
}

// Deps are the collaborators the service coordinates
type Deps struct {
	Cipher   Cipher
	Selector Selector
	Backend  Backend
	Cache    Cache
	Fallback Fallback
}

type EncryptRequest struct {
	Data         string `json:"data"`
	Password     string `json:"password"`
	ResourceType string `json:"resource_type"`
}

type EncryptResponse struct {
	EncryptedData string  `json:"encrypted_data"`
	ResourceID    *string `json:"resource_id"`
}

type DecryptRequest struct {
	EncryptedData string  `json:"encrypted_data"`
	Password      string  `json:"password"`
	ResourceType  string  `json:"resource_type"`
	ResourceID    *string `json:"resource_id"`
}

type DecryptResponse struct {
	Data       string  `json:"data"`
	ResourceID *string `json:"resource_id"`
}

// Status is the diagnostic view served on /status
type Status struct {
	ServiceID   string                     `json:"service_id"`
	ServiceRole config.ServiceRole         `json:"service_role"`
	Strategy    config.Strategy            `json:"strategy"`
	Instances   []scheduler.InstanceStatus `json:"instances"`
	Fallback    *fallback.Instance         `json:"fallback"`
}

// Service coordinates the cipher, the scheduler, the backend and the
// degraded path (cache and fallback instance) for each request.
type Service struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger
}

// New creates the orchestration service
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, deps: deps, logger: logger}
}

// ServiceID returns the configured service id
func (s *Service) ServiceID() string { return s.cfg.Service.ID }

// Role returns the configured service role
func (s *Service) Role() config.ServiceRole { return s.cfg.Service.Role }

// Encrypt always returns ciphertext once the cipher succeeds. Backend
// and fallback failures only cost the caller the resource id.
func (s *Service) Encrypt(ctx context.Context, req EncryptRequest) (*EncryptResponse, error) {
	if !s.Role().AllowsEncrypt() {
		return nil, fmt.Errorf("%w: encrypt on %s service", ErrOperationNotPermitted, s.Role())
	}

	encrypted, err := s.deps.Cipher.Encrypt(req.Data, req.Password)
	if err != nil {
		return nil, err
	}

	resp := &EncryptResponse{EncryptedData: encrypted}
	rec := cache.EncryptRecord{
		Data:          req.Data,
		Password:      req.Password,
		ResourceType:  req.ResourceType,
		EncryptedData: encrypted,
	}

	inst, err := s.deps.Selector.Select(true)
	if err != nil {
		s.logger.Warn("no write instance available, caching record",
			zap.String("resource_type", req.ResourceType), zap.Error(err))
		s.record(rec)

		if err := s.deps.Fallback.HandleOutage(ctx); err != nil {
			s.logger.Error("fallback handling failed", zap.Error(err))
		}
		return resp, nil
	}

	id, err := s.deps.Backend.Write(ctx, inst, req.ResourceType, encrypted)
	s.record(rec)
	if err != nil {
		s.logger.Warn("backend write failed, record cached",
			zap.String("instance_id", inst.ID),
			zap.String("resource_type", req.ResourceType),
			zap.Error(err))
		return resp, nil
	}

	if id != "" {
		resp.ResourceID = &id
	}
	return resp, nil
}

// Decrypt prefers the ciphertext stored on a read instance when a
// resource id is given and falls back to the ciphertext in the request.
// Cipher failures are always returned.
func (s *Service) Decrypt(ctx context.Context, req DecryptRequest) (*DecryptResponse, error) {
	if !s.Role().AllowsDecrypt() {
		return nil, fmt.Errorf("%w: decrypt on %s service", ErrOperationNotPermitted, s.Role())
	}

	ciphertext := req.EncryptedData
	if req.ResourceID != nil && *req.ResourceID != "" {
		if stored, err := s.fetch(ctx, req.ResourceType, *req.ResourceID); err != nil {
			s.logger.Warn("using ciphertext from request",
				zap.String("resource_id", *req.ResourceID), zap.Error(err))
		} else {
			ciphertext = stored
		}
	}

	data, err := s.deps.Cipher.Decrypt(ciphertext, req.Password)
	if err != nil {
		return nil, err
	}

	s.record(cache.DecryptRecord{
		EncryptedData: ciphertext,
		Password:      req.Password,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		DecryptedData: data,
	})

	return &DecryptResponse{Data: data, ResourceID: req.ResourceID}, nil
}

func (s *Service) fetch(ctx context.Context, resourceType, resourceID string) (string, error) {
	inst, err := s.deps.Selector.Select(false)
	if err != nil {
		return "", err
	}
	return s.deps.Backend.Read(ctx, inst, resourceType, resourceID)
}

// BatchEncrypt encrypts each request in order and stops at the first failure
func (s *Service) BatchEncrypt(ctx context.Context, reqs []EncryptRequest) ([]EncryptResponse, error) {
	if !s.Role().AllowsEncrypt() {
		return nil, fmt.Errorf("%w: encrypt on %s service", ErrOperationNotPermitted, s.Role())
	}

	out := make([]EncryptResponse, 0, len(reqs))
	for i, req := range reqs {
		resp, err := s.Encrypt(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, *resp)
	}
	return out, nil
}

// BatchDecrypt decrypts each request in order and stops at the first failure
func (s *Service) BatchDecrypt(ctx context.Context, reqs []DecryptRequest) ([]DecryptResponse, error) {
	if !s.Role().AllowsDecrypt() {
		return nil, fmt.Errorf("%w: decrypt on %s service", ErrOperationNotPermitted, s.Role())
	}

	out := make([]DecryptResponse, 0, len(reqs))
	for i, req := range reqs {
		resp, err := s.Decrypt(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, *resp)
	}
	return out, nil
}

// HealthCheck passes when the configuration is valid and at least one
// instance passed its last probe
func (s *Service) HealthCheck() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	for _, st := range s.deps.Selector.InstanceStatuses() {
		if st.State == scheduler.Healthy {
			return nil
		}
	}
	return scheduler.ErrNoHealthyInstance
}

// Status returns instance health and the fallback slot
func (s *Service) Status() Status {
	st := Status{
		ServiceID:   s.ServiceID(),
		ServiceRole: s.Role(),
		Strategy:    s.cfg.CrudAPI.Strategy,
		Instances:   s.deps.Selector.InstanceStatuses(),
	}
	if inst, ok := s.deps.Fallback.Current(); ok {
		st.Fallback = &inst
	}
	return st
}

// record writes to the cache. Failures are logged and never reach the caller.
func (s *Service) record(rec cache.Record) {
	if err := s.deps.Cache.Write(rec); err != nil {
		s.logger.Error("cache write failed", zap.Error(err))
	}
}
