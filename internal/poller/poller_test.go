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

package poller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/bcem/mailchannel/internal/gate"
	"github.com/bcem/mailchannel/internal/gog"
	"github.com/bcem/mailchannel/internal/lock"
	"github.com/bcem/mailchannel/internal/mailparse"
	"github.com/bcem/mailchannel/internal/models"
	"github.com/bcem/mailchannel/internal/state"
)

// fakeSource serves canned history pages and messages.
type fakeSource struct {
	mu         sync.Mutex
	initCursor string
	pages      []*gog.HistoryPage
	historyErr error
	messages   map[string]*gmail.Message
	getErr     map[string]error
	gets       []string
	sinces     []string
	block      chan struct{}
}

func (f *fakeSource) History(_ context.Context, since string, max int) (*gog.HistoryPage, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if since == "1" && max == 1 {
		return &gog.HistoryPage{HistoryID: f.initCursor}, nil
	}
	f.sinces = append(f.sinces, since)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if len(f.pages) == 0 {
		return &gog.HistoryPage{}, nil
	}
	p := f.pages[0]
	f.pages = f.pages[1:]
	return p, nil
}

func (f *fakeSource) GetMessage(_ context.Context, id string) (*gmail.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, id)
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	return f.messages[id], nil
}

func (f *fakeSource) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.gets...)
}

// fakeDispatcher records submitted events.
type fakeDispatcher struct {
	mu     sync.Mutex
	events []*models.InboundEvent
}

func (d *fakeDispatcher) Submit(_ context.Context, ev *models.InboundEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func newMessage(threadID, from, subject, plainB64 string) *gmail.Message {
	return &gmail.Message{
		ThreadId: threadID,
		Snippet:  "snippet text",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: from},
				{Name: "Subject", Value: subject},
				{Name: "Date", Value: "Mon, 2 Mar 2026 10:00:00 +0000"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: plainB64}},
			},
		},
	}
}

type harness struct {
	dir        string
	source     *fakeSource
	dispatcher *fakeDispatcher
	store      *state.FileStore
	poller     *Poller
}

func newHarness(t *testing.T, src *fakeSource) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:        dir,
		source:     src,
		dispatcher: &fakeDispatcher{},
		store:      state.NewFileStore(dir, "default"),
	}
	h.poller = New(Config{
		AccountID:  "default",
		Self:       "Me@Example.com",
		DMPolicy:   gate.PolicyAllowlist,
		AllowFrom:  []string{"jane@example.com"},
		Source:     src,
		Store:      h.store,
		Claimer:    lock.NewFileClaimer(dir),
		Archiver:   gate.NewArchiver(dir),
		Dispatcher: h.dispatcher,
	})
	return h
}

func (h *harness) archived(t *testing.T) []string {
	t.Helper()
	var out []string
	root := filepath.Join(h.dir, "gmail-archive", "blocked", "default")
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			out = append(out, filepath.Base(path))
		}
		return nil
	})
	return out
}

// TestTick_InitializesCursor verifies that a first tick stores a cursor
// near now before processing anything.
func TestTick_InitializesCursor(t *testing.T) {
	src := &fakeSource{initCursor: "500"}
	h := newHarness(t, src)

	if _, err := h.poller.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(src.sinces) != 1 || src.sinces[0] != "500" {
		t.Errorf("history requested since %v, want [500]", src.sinces)
	}
	if st := h.store.Load(context.Background()); st.LastHistoryID != "500" {
		t.Errorf("cursor = %q, want 500", st.LastHistoryID)
	}
}

// TestTick_InitFailure verifies that a missing init cursor is an error.
func TestTick_InitFailure(t *testing.T) {
	h := newHarness(t, &fakeSource{})

	_, err := h.poller.Tick(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing historyId") {
		t.Fatalf("expected init error, got %v", err)
	}
}

// TestTick_EmptyCursorLeavesState verifies that a page without a cursor
// leaves the state file byte-identical.
func TestTick_EmptyCursorLeavesState(t *testing.T) {
	src := &fakeSource{pages: []*gog.HistoryPage{{HistoryID: "", Messages: []string{"m1"}}}}
	h := newHarness(t, src)
	ctx := context.Background()

	if err := h.store.Save(ctx, state.State{LastHistoryID: "100", SeenMessageIDs: []string{"x"}}); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(h.store.Path())

	res, err := h.poller.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !res.Empty {
		t.Error("expected Empty result")
	}

	after, _ := os.ReadFile(h.store.Path())
	if !bytes.Equal(before, after) {
		t.Errorf("state changed:\nbefore %s\nafter  %s", before, after)
	}
	if len(src.fetched()) != 0 || h.dispatcher.count() != 0 {
		t.Error("no message should be fetched or dispatched")
	}
}

// TestTick_HistoryErrorLeavesState verifies that a failed delta fetch
// aborts the tick without touching state.
func TestTick_HistoryErrorLeavesState(t *testing.T) {
	src := &fakeSource{historyErr: errors.New("gog exited 1")}
	h := newHarness(t, src)
	ctx := context.Background()
	_ = h.store.Save(ctx, state.State{LastHistoryID: "100"})
	before, _ := os.ReadFile(h.store.Path())

	if _, err := h.poller.Tick(ctx); err == nil {
		t.Fatal("expected error")
	}
	after, _ := os.ReadFile(h.store.Path())
	if !bytes.Equal(before, after) {
		t.Error("state changed after failed fetch")
	}
}

// TestTick_AllowedSenderDispatched verifies normalization of an allowed
// message and the saved cursor.
func TestTick_AllowedSenderDispatched(t *testing.T) {
	src := &fakeSource{
		pages: []*gog.HistoryPage{{HistoryID: "101", Messages: []string{"m1"}}},
		messages: map[string]*gmail.Message{
			"m1": newMessage("t1", "Jane Doe <Jane@Example.com>", "Lunch?", "SGVsbG8h"),
		},
	}
	h := newHarness(t, src)
	ctx := context.Background()
	_ = h.store.Save(ctx, state.State{LastHistoryID: "100"})

	res, err := h.poller.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1", res.Dispatched)
	}
	if got := h.archived(t); len(got) != 0 {
		t.Errorf("unexpected archive entries: %v", got)
	}

	ev := h.dispatcher.events[0]
	wantBody := "From: Jane Doe <Jane@Example.com>\nSubject: Lunch?\nDate: Mon, 2 Mar 2026 10:00:00 +0000\nHello!"
	if ev.Body != wantBody {
		t.Errorf("body = %q, want %q", ev.Body, wantBody)
	}
	checks := map[string][2]string{
		"raw_body":    {ev.RawBody, "Hello!"},
		"from":        {ev.From, "gmail:jane@example.com"},
		"to":          {ev.To, "thread:t1"},
		"session_key": {ev.SessionKey, "agent:main:gmail:dm:t1"},
		"sender_id":   {ev.SenderID, "jane@example.com"},
		"message_sid": {ev.MessageSID, "m1"},
		"thread_id":   {ev.MessageThreadID, "t1"},
		"chat_type":   {ev.ChatType, models.ChatTypeDirect},
		"account_id":  {ev.AccountID, "default"},
	}
	for field, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", field, c[0], c[1])
		}
	}

	st := h.store.Load(ctx)
	if st.LastHistoryID != "101" || strings.Join(st.SeenMessageIDs, ",") != "m1" {
		t.Errorf("state = %+v", st)
	}
}

// TestTick_BlockedSenderArchived verifies that a non-allowlisted sender is
// archived and not dispatched.
func TestTick_BlockedSenderArchived(t *testing.T) {
	src := &fakeSource{
		pages: []*gog.HistoryPage{{HistoryID: "101", Messages: []string{"m1"}}},
		messages: map[string]*gmail.Message{
			"m1": newMessage("t1", "Mallory <mallory@evil.com>", "Win", "SGVsbG8h"),
		},
	}
	h := newHarness(t, src)
	_ = h.store.Save(context.Background(), state.State{LastHistoryID: "100"})

	res, err := h.poller.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Blocked != 1 || h.dispatcher.count() != 0 {
		t.Errorf("blocked=%d dispatched=%d, want 1/0", res.Blocked, h.dispatcher.count())
	}
	if got := h.archived(t); len(got) != 1 || got[0] != "m1.json" {
		t.Errorf("archive entries = %v, want [m1.json]", got)
	}
}

// TestTick_SelfSentSkipped verifies that mail from the account itself
// produces neither an event nor an archive entry.
func TestTick_SelfSentSkipped(t *testing.T) {
	src := &fakeSource{
		pages: []*gog.HistoryPage{{HistoryID: "101", Messages: []string{"m1"}}},
		messages: map[string]*gmail.Message{
			"m1": newMessage("t1", "Me <ME@example.com>", "Note", "SGVsbG8h"),
		},
	}
	h := newHarness(t, src)
	_ = h.store.Save(context.Background(), state.State{LastHistoryID: "100"})

	if _, err := h.poller.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if h.dispatcher.count() != 0 || len(h.archived(t)) != 0 {
		t.Error("self-sent message must not be dispatched or archived")
	}
}

// TestTick_SeenAndClaimedNotFetched verifies idempotence under duplicate
// delta pages and claims made by another worker.
func TestTick_SeenAndClaimedNotFetched(t *testing.T) {
	src := &fakeSource{
		pages: []*gog.HistoryPage{
			{HistoryID: "101", Messages: []string{"seen", "claimed", "new"}},
			{HistoryID: "102", Messages: []string{"new"}},
		},
		messages: map[string]*gmail.Message{
			"new": newMessage("t1", "jane@example.com", "x", "SGVsbG8h"),
		},
	}
	h := newHarness(t, src)
	ctx := context.Background()
	_ = h.store.Save(ctx, state.State{LastHistoryID: "100", SeenMessageIDs: []string{"seen"}})

	if c, _ := lock.NewFileClaimer(h.dir).TryClaim(ctx, "claimed"); c != lock.Claimed {
		t.Fatal("pre-claim failed")
	}

	for i := 0; i < 2; i++ {
		if _, err := h.poller.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if got := src.fetched(); strings.Join(got, ",") != "new" {
		t.Errorf("fetched %v, want only [new]", got)
	}
	if h.dispatcher.count() != 1 {
		t.Errorf("dispatched %d, want 1", h.dispatcher.count())
	}
}

// TestTick_MessageErrorContinues verifies that one failing message does
// not stop the batch or the cursor advance.
func TestTick_MessageErrorContinues(t *testing.T) {
	src := &fakeSource{
		pages: []*gog.HistoryPage{{HistoryID: "101", Messages: []string{"bad", "good", "nothread"}}},
		messages: map[string]*gmail.Message{
			"good":     newMessage("t1", "jane@example.com", "x", "SGVsbG8h"),
			"nothread": newMessage("", "jane@example.com", "x", "SGVsbG8h"),
		},
		getErr: map[string]error{"bad": errors.New("boom")},
	}
	h := newHarness(t, src)
	_ = h.store.Save(context.Background(), state.State{LastHistoryID: "100"})

	res, err := h.poller.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Failed != 1 || res.Dispatched != 1 {
		t.Errorf("failed=%d dispatched=%d, want 1/1", res.Failed, res.Dispatched)
	}
	st := h.store.Load(context.Background())
	if st.LastHistoryID != "101" {
		t.Errorf("cursor = %q, want 101", st.LastHistoryID)
	}
	if strings.Join(st.SeenMessageIDs, ",") != "bad,good,nothread" {
		t.Errorf("seen = %v", st.SeenMessageIDs)
	}
}

// TestTick_SeenSetCapped verifies the persisted seen-set never exceeds the
// cap and keeps the newest ids.
func TestTick_SeenSetCapped(t *testing.T) {
	var pages []*gog.HistoryPage
	for p := 0; p < 3; p++ {
		var ids []string
		for i := 0; i < 250; i++ {
			ids = append(ids, fmt.Sprintf("m%03d-%03d", p, i))
		}
		pages = append(pages, &gog.HistoryPage{HistoryID: fmt.Sprint(200 + p), Messages: ids})
	}
	src := &fakeSource{pages: pages, messages: map[string]*gmail.Message{}}
	h := newHarness(t, src)
	ctx := context.Background()
	_ = h.store.Save(ctx, state.State{LastHistoryID: "100"})

	for i := 0; i < 3; i++ {
		if _, err := h.poller.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if n := len(h.store.Load(ctx).SeenMessageIDs); n > state.MaxSeen {
			t.Fatalf("seen-set length %d exceeds cap", n)
		}
	}

	seen := h.store.Load(ctx).SeenMessageIDs
	if len(seen) != state.MaxSeen {
		t.Fatalf("len = %d, want %d", len(seen), state.MaxSeen)
	}
	if seen[0] != "m001-000" || seen[len(seen)-1] != "m002-249" {
		t.Errorf("window = %s..%s", seen[0], seen[len(seen)-1])
	}
}

// TestTick_SingleFlight verifies that a tick started while another runs
// is dropped.
func TestTick_SingleFlight(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	h := newHarness(t, src)
	_ = h.store.Save(context.Background(), state.State{LastHistoryID: "100"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.poller.Tick(context.Background())
	}()

	// Wait until the first tick holds the lock.
	deadline := time.Now().Add(2 * time.Second)
	for h.poller.mu.TryLock() {
		h.poller.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("first tick never started")
		}
		time.Sleep(time.Millisecond)
	}

	res, err := h.poller.Tick(context.Background())
	if err != nil || !res.Busy {
		t.Errorf("second tick = %+v, %v; want Busy", res, err)
	}

	close(src.block)
	<-done
}

// TestTick_QuoteStripping verifies the configured extractor is applied.
func TestTick_QuoteStripping(t *testing.T) {
	// "Yes\n\nOn Mon, Jan 1, 2026 Jane wrote:\n> old"
	body := "WWVzCgpPbiBNb24sIEphbiAxLCAyMDI2IEphbmUgd3JvdGU6Cj4gb2xk"
	src := &fakeSource{
		pages:    []*gog.HistoryPage{{HistoryID: "101", Messages: []string{"m1"}}},
		messages: map[string]*gmail.Message{"m1": newMessage("t1", "jane@example.com", "", body)},
	}
	h := newHarness(t, src)
	h.poller.cfg.Extractor = mailparse.QuoteStripper{}
	_ = h.store.Save(context.Background(), state.State{LastHistoryID: "100"})

	if _, err := h.poller.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	ev := h.dispatcher.events[0]
	if ev.RawBody != "Yes" {
		t.Errorf("raw body = %q, want Yes", ev.RawBody)
	}
	if ev.Body != "From: jane@example.com\nDate: Mon, 2 Mar 2026 10:00:00 +0000\nYes" {
		t.Errorf("body = %q", ev.Body)
	}
}

// TestComposeText verifies optional header lines.
func TestComposeText(t *testing.T) {
	if got := composeText("a@b.com", "", "", "hi"); got != "From: a@b.com\nhi" {
		t.Errorf("got %q", got)
	}
	if got := composeText("a@b.com", "S", "D", ""); got != "From: a@b.com\nSubject: S\nDate: D" {
		t.Errorf("got %q", got)
	}
}
