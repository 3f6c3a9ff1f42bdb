// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/FairForge/cryptgate/internal/crypto"
	"github.com/FairForge/cryptgate/internal/service"
	"go.uber.org/zap"
)

// maxRequestBody bounds request bodies, batches included
const maxRequestBody = 10 << 20

var errInvalidBody = errors.New("invalid request body")

// Response is the envelope for every JSON reply
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type healthData struct {
	ServiceID   string  `json:"service_id"`
	ServiceRole string  `json:"service_role"`
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.HealthCheck(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, Response{
			Message: fmt.Sprintf("health check failed: %v", err),
		})
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "service is running",
		Data: healthData{
			ServiceID:   s.service.ServiceID(),
			ServiceRole: string(s.service.Role()),
			Status:      "ok",
			Uptime:      time.Since(s.startTime).Seconds(),
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "status",
		Data:    s.service.Status(),
	})
}

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req service.EncryptRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, r, "encryption failed", err)
		return
	}

	resp, err := s.service.Encrypt(r.Context(), req)
	if err != nil {
		s.respondError(w, r, "encryption failed", err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "encrypted", Data: resp})
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req service.DecryptRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, r, "decryption failed", err)
		return
	}

	resp, err := s.service.Decrypt(r.Context(), req)
	if err != nil {
		s.respondError(w, r, "decryption failed", err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "decrypted", Data: resp})
}

func (s *Server) handleBatchEncrypt(w http.ResponseWriter, r *http.Request) {
	var reqs []service.EncryptRequest
	if err := decodeBody(w, r, &reqs); err != nil {
		s.respondError(w, r, "batch encryption failed", err)
		return
	}

	resp, err := s.service.BatchEncrypt(r.Context(), reqs)
	if err != nil {
		s.respondError(w, r, "batch encryption failed", err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "batch encrypted", Data: resp})
}

func (s *Server) handleBatchDecrypt(w http.ResponseWriter, r *http.Request) {
	var reqs []service.DecryptRequest
	if err := decodeBody(w, r, &reqs); err != nil {
		s.respondError(w, r, "batch decryption failed", err)
		return
	}

	resp, err := s.service.BatchDecrypt(r.Context(), reqs)
	if err != nil {
		s.respondError(w, r, "batch decryption failed", err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "batch decrypted", Data: resp})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrOperationNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, crypto.ErrCipher), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, prefix string, err error) {
	status := statusFor(err)
	s.logger.Warn("request failed",
		zap.String("request_id", requestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err))

	respondJSON(w, status, Response{Message: fmt.Sprintf("%s: %v", prefix, err)})
}

func respondJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
