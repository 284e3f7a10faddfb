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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bcem/mailchannel/internal/bridge"
	"github.com/bcem/mailchannel/internal/status"
)

type mockSender struct {
	mu   sync.Mutex
	sent []SendRequest
	err  error
}

func (m *mockSender) SendText(_ context.Context, to, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if strings.TrimSpace(to) == "" {
		return "", bridge.ErrMissingTarget
	}
	m.sent = append(m.sent, SendRequest{To: to, Text: text})
	return to, nil
}

type mockChannels struct {
	snapshots []status.Snapshot
	senders   map[string]*mockSender
}

func (m *mockChannels) Snapshots() []status.Snapshot { return m.snapshots }

func (m *mockChannels) Sender(accountID string) (TextSender, error) {
	s, ok := m.senders[accountID]
	if !ok {
		return nil, errors.New("gmail account " + accountID + " is not running")
	}
	return s, nil
}

// TestServeHealth verifies healthy and failing dependency checks.
func TestServeHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	bad := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		checks map[string]Check
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"all healthy", map[string]Check{"redis": ok}, http.StatusOK},
		{"redis down", map[string]Check{"redis": bad}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockChannels{}, tt.checks)
			w := httptest.NewRecorder()
			h.ServeHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// TestServeStatus verifies snapshots, summaries and issues in the status body.
func TestServeStatus(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := "history failed"
	ch := &mockChannels{snapshots: []status.Snapshot{
		{AccountID: "default", Enabled: true, Configured: true, Running: true, LastStartAt: &start},
		{AccountID: "work", Enabled: true, Configured: true, LastError: &msg},
	}}

	w := httptest.NewRecorder()
	NewHandler(ch, nil).ServeStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(resp.Accounts))
	}
	if !resp.Accounts[0].Summary.Running || resp.Accounts[0].Summary.LastStartAt == nil {
		t.Errorf("summary = %+v, want running with start time", resp.Accounts[0].Summary)
	}
	if len(resp.Issues) != 1 || resp.Issues[0].Message != "Channel error: history failed" {
		t.Errorf("issues = %+v", resp.Issues)
	}
}

// TestServeStatus_NoIssues verifies issues encode as an empty list.
func TestServeStatus_NoIssues(t *testing.T) {
	w := httptest.NewRecorder()
	NewHandler(&mockChannels{}, nil).ServeStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if !strings.Contains(w.Body.String(), `"issues":[]`) {
		t.Errorf("body = %s, want empty issues list", w.Body.String())
	}
}

// TestServeSend verifies routing of send requests to account senders.
func TestServeSend(t *testing.T) {
	sender := &mockSender{}
	failing := &mockSender{err: errors.New("gog exited 1")}
	ch := &mockChannels{senders: map[string]*mockSender{"default": sender, "broken": failing}}
	h := NewHandler(ch, nil)

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"ok", http.MethodPost, `{"account":"default","to":"thread:18c2a0f3b1d4e5f6","text":"hi"}`, http.StatusOK},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, `{`, http.StatusBadRequest},
		{"unknown account", http.MethodPost, `{"account":"nope","to":"a@b.c","text":"hi"}`, http.StatusNotFound},
		{"missing target", http.MethodPost, `{"account":"default","to":" ","text":"hi"}`, http.StatusBadRequest},
		{"send failure", http.MethodPost, `{"account":"broken","to":"a@b.c","text":"hi"}`, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeSend(w, httptest.NewRequest(tt.method, "/send", strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %q)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if len(sender.sent) != 1 || sender.sent[0].Text != "hi" {
		t.Errorf("sent = %+v, want one message", sender.sent)
	}
}

// TestMux verifies the routes are registered.
func TestMux(t *testing.T) {
	srv := httptest.NewServer(Mux(NewHandler(&mockChannels{}, nil)))
	defer srv.Close()

	for _, path := range []string{"/health", "/status"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
