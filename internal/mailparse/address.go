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

// Package mailparse extracts addresses, headers and readable body text from
// Gmail API message structures.
package mailparse

import (
	"mime"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
	"google.golang.org/api/gmail/v1"
)

var angleAddr = regexp.MustCompile(`<([^>]+)>`)

// headerDecoder decodes RFC 2047 encoded words, including legacy charsets.
var headerDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// ParseEmailAddress returns the bare, lowercased address from a header such
// as "Jane Doe <jane@example.com>". Input without angle brackets is trimmed
// and lowercased.
func ParseEmailAddress(fromHeader string) string {
	addr := fromHeader
	if m := angleAddr.FindStringSubmatch(fromHeader); m != nil {
		addr = m[1]
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// HeaderValue finds a header by case-insensitive name. Missing headers
// yield "".
func HeaderValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return DecodeHeader(h.Value)
		}
	}
	return ""
}

// DecodeHeader decodes RFC 2047 encoded words. Undecodable input is
// returned unchanged.
func DecodeHeader(value string) string {
	if !strings.Contains(value, "=?") {
		return value
	}
	decoded, err := headerDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
