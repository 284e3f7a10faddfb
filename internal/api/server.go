// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the operator endpoints of the channel service:
// health, per-account status and an outbound send hook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bcem/mailchannel/internal/bridge"
	"github.com/bcem/mailchannel/internal/status"
)

// maxSendBody caps the size of a send request.
const maxSendBody = 1 << 20

// TextSender sends outbound text for one account.
type TextSender interface {
	SendText(ctx context.Context, to, text string) (string, error)
}

// Channels is the view of the running accounts the handler needs.
type Channels interface {
	Snapshots() []status.Snapshot
	Sender(accountID string) (TextSender, error)
}

// Check probes one dependency for /health.
type Check func(ctx context.Context) error

// Handler serves the operator endpoints.
type Handler struct {
	channels Channels
	checks   map[string]Check
}

// NewHandler creates a handler. checks are run in no particular order on
// every /health request.
func NewHandler(channels Channels, checks map[string]Check) *Handler {
	return &Handler{channels: channels, checks: checks}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Accounts []AccountStatus `json:"accounts"`
	Issues   []status.Issue  `json:"issues"`
}

// AccountStatus pairs a snapshot with its summary.
type AccountStatus struct {
	status.Snapshot
	Summary status.Summary `json:"summary"`
}

// SendRequest is the body of POST /send.
type SendRequest struct {
	Account string `json:"account"`
	To      string `json:"to"`
	Text    string `json:"text"`
}

// SendResponse is the body of a successful POST /send.
type SendResponse struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
}

// ServeHealth reports unhealthy on the first failing check.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			slog.Warn("health check failed", "check", name, "error", err)
			http.Error(w, name+" unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

// ServeStatus writes every account's snapshot, summary and issues.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshots := h.channels.Snapshots()
	resp := StatusResponse{
		Accounts: make([]AccountStatus, 0, len(snapshots)),
		Issues:   status.CollectIssues(snapshots),
	}
	if resp.Issues == nil {
		resp.Issues = []status.Issue{}
	}
	for _, s := range snapshots {
		resp.Accounts = append(resp.Accounts, AccountStatus{Snapshot: s, Summary: status.BuildSummary(s)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ServeSend sends text through a running account.
func (h *Handler) ServeSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var req SendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	sender, err := h.channels.Sender(req.Account)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	to, err := sender.SendText(r.Context(), req.To, req.Text)
	switch {
	case errors.Is(err, bridge.ErrMissingTarget):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("gmail send failed", "account", req.Account, "error", err)
		http.Error(w, "send failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{Channel: "gmail", To: to})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Mux routes the handler's endpoints.
func Mux(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.ServeHealth)
	mux.HandleFunc("/status", handler.ServeStatus)
	mux.HandleFunc("/send", handler.ServeSend)
	return mux
}

// Serve starts the HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// accepting connections. The server shuts down when ctx is cancelled.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:      Mux(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("api server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("api server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("api server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	return ready, nil
}
