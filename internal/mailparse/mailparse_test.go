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

package mailparse

import (
	"testing"

	"google.golang.org/api/gmail/v1"
)

// TestParseEmailAddress verifies address extraction from From headers.
func TestParseEmailAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Jane Doe <jane@example.com>", "jane@example.com"},
		{"BOB@EXAMPLE.COM", "bob@example.com"},
		{"  carol@example.com ", "carol@example.com"},
		{`"Doe, Jane" < Jane@Example.com >`, "jane@example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseEmailAddress(tt.in); got != tt.want {
				t.Errorf("ParseEmailAddress(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestHeaderValue verifies case-insensitive header lookup and RFC 2047 decoding.
func TestHeaderValue(t *testing.T) {
	headers := []*gmail.MessagePartHeader{
		{Name: "From", Value: "a@b.com"},
		{Name: "Subject", Value: "=?UTF-8?B?SGVsbG8=?="},
	}

	if got := HeaderValue(headers, "from"); got != "a@b.com" {
		t.Errorf("from = %q, want a@b.com", got)
	}
	if got := HeaderValue(headers, "SUBJECT"); got != "Hello" {
		t.Errorf("subject = %q, want Hello", got)
	}
	if got := HeaderValue(headers, "Date"); got != "" {
		t.Errorf("date = %q, want empty", got)
	}
	if got := HeaderValue(nil, "From"); got != "" {
		t.Errorf("nil headers = %q, want empty", got)
	}
}

// TestDecodeBase64URL verifies url-safe decoding with and without padding.
func TestDecodeBase64URL(t *testing.T) {
	if got := DecodeBase64URL("SGVsbG8tX3dvcmxk"); got != "Hello-_world" {
		t.Errorf("got %q, want Hello-_world", got)
	}
	if got := DecodeBase64URL("SGVsbG8h"); got != "Hello!" {
		t.Errorf("got %q, want Hello!", got)
	}
	if got := DecodeBase64URL("SGk="); got != "Hi" {
		t.Errorf("padded input = %q, want Hi", got)
	}
	if got := DecodeBase64URL("!!!"); got != "" {
		t.Errorf("invalid input = %q, want empty", got)
	}
}

func textPart(mime, data string) *gmail.MessagePart {
	return &gmail.MessagePart{MimeType: mime, Body: &gmail.MessagePartBody{Data: data}}
}

// TestExtractBody covers the plain/html preference order.
func TestExtractBody(t *testing.T) {
	plainOnly := &gmail.MessagePart{Parts: []*gmail.MessagePart{textPart("text/plain", "SGVsbG8h")}}
	if got := ExtractBody(plainOnly); got != "Hello!" {
		t.Errorf("plain = %q, want Hello!", got)
	}

	htmlOnly := &gmail.MessagePart{Parts: []*gmail.MessagePart{textPart("text/html", "PGI+SGVsbG88L2I+")}}
	if got := ExtractBody(htmlOnly); got != "Hello" {
		t.Errorf("html = %q, want Hello", got)
	}

	both := &gmail.MessagePart{Parts: []*gmail.MessagePart{
		textPart("text/html", "PGI+SGVsbG88L2I+"),
		textPart("text/plain", "SGVsbG8h"),
	}}
	if got := ExtractBody(both); got != "Hello!" {
		t.Errorf("both = %q, want text/plain to win", got)
	}

	direct := &gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "SGVsbG8tX3dvcmxk"}}
	if got := ExtractBody(direct); got != "Hello-_world" {
		t.Errorf("direct = %q, want Hello-_world", got)
	}

	if got := ExtractBody(nil); got != "" {
		t.Errorf("nil payload = %q, want empty", got)
	}
}

// TestExtractBody_Nested verifies that nested multipart trees are searched.
func TestExtractBody_Nested(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					textPart("text/html", "PGI+SGVsbG88L2I+"),
					textPart("text/plain", "SGVsbG8h"),
				},
			},
			{MimeType: "application/pdf", Filename: "a.pdf", Body: &gmail.MessagePartBody{AttachmentId: "att"}},
		},
	}
	if got := ExtractBody(payload); got != "Hello!" {
		t.Errorf("nested = %q, want Hello!", got)
	}
}

// TestExtractBody_Charset verifies legacy charsets are converted to UTF-8.
func TestExtractBody_Charset(t *testing.T) {
	part := textPart("text/plain", "Y2Fm6Q") // "caf\xe9" in ISO-8859-1
	part.Headers = []*gmail.MessagePartHeader{{Name: "Content-Type", Value: "text/plain; charset=iso-8859-1"}}

	payload := &gmail.MessagePart{Parts: []*gmail.MessagePart{part}}
	if got := ExtractBody(payload); got != "café" {
		t.Errorf("got %q, want café", got)
	}
}

// TestStripHTML verifies tag, script and entity handling.
func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "<b>Hello</b>", "Hello"},
		{"entities", "Tom &amp; Jerry &lt;3 &#39;x&#39; &#x41;", "Tom & Jerry <3 'x' A"},
		{"script", "<script>alert(1)</script><p>Hi</p>", "Hi"},
		{"style", "<style>p{color:red}</style>Hi", "Hi"},
		{"nbsp", "a&nbsp;b", "a b"},
		{"blank lines", "<p>a</p>\n\n\n\n<p>b</p>", "a\n\nb"},
		{"line edges", "<div>one</div> <div>two</div>", "one\ntwo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestQuoteStripper verifies quoted history removal.
func TestQuoteStripper(t *testing.T) {
	body := "Sounds good.\n\nOn Mon, Jan 1, 2026 at 10:00 AM Jane <jane@example.com> wrote:\n> earlier text\n> more"
	got, err := QuoteStripper{}.ExtractReply(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Sounds good." {
		t.Errorf("got %q, want %q", got, "Sounds good.")
	}

	wrapped := "Yes\nOn Mon, Jan 1, 2026 at 10:00 AM Jane Doe\n<jane@example.com> wrote:\n> old"
	got, _ = QuoteStripper{}.ExtractReply(wrapped)
	if got != "Yes" {
		t.Errorf("wrapped attribution: got %q, want Yes", got)
	}

	sig := "Thanks\n-- \nJane"
	got, _ = QuoteStripper{}.ExtractReply(sig)
	if got != "Thanks" {
		t.Errorf("signature: got %q, want Thanks", got)
	}
}

// TestNewReplyExtractor verifies extractor selection.
func TestNewReplyExtractor(t *testing.T) {
	if _, ok := NewReplyExtractor("quotes").(QuoteStripper); !ok {
		t.Error("expected QuoteStripper for \"quotes\"")
	}
	if _, ok := NewReplyExtractor("").(NopExtractor); !ok {
		t.Error("expected NopExtractor by default")
	}
	got, _ := NopExtractor{}.ExtractReply("> keep")
	if got != "> keep" {
		t.Errorf("nop changed body: %q", got)
	}
}
