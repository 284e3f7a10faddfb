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
	"encoding/base64"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
	"google.golang.org/api/gmail/v1"
)

// DecodeBase64URL decodes Gmail's base64url body data. Standard-alphabet
// input and missing padding are tolerated; invalid input yields "".
func DecodeBase64URL(s string) string {
	b, ok := decodeBase64URL(s)
	if !ok {
		return ""
	}
	return string(b)
}

func decodeBase64URL(s string) ([]byte, bool) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// ExtractBody returns readable text for a message payload.
//
// A direct single-part body wins. Otherwise the part tree is walked depth
// first: the first text/plain part is returned as soon as it is found, and
// the first text/html part is kept as a fallback and stripped to plain text.
func ExtractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}

	if payload.Body != nil && strings.TrimSpace(payload.Body.Data) != "" {
		text := decodePart(payload)
		if strings.EqualFold(mediaType(payload), "text/html") {
			return StripHTML(text)
		}
		return text
	}

	var html string
	if plain, found := walkParts(payload.Parts, &html); found {
		return plain
	}
	if html != "" {
		return StripHTML(html)
	}
	return ""
}

func walkParts(parts []*gmail.MessagePart, html *string) (string, bool) {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if len(part.Parts) > 0 {
			if plain, found := walkParts(part.Parts, html); found {
				return plain, true
			}
			continue
		}
		if part.Body == nil || strings.TrimSpace(part.Body.Data) == "" {
			continue
		}
		decoded := decodePart(part)
		if decoded == "" {
			continue
		}
		switch strings.ToLower(part.MimeType) {
		case "text/plain":
			return decoded, true
		case "text/html":
			if *html == "" {
				*html = decoded
			}
		}
	}
	return "", false
}

// decodePart base64url-decodes a part body and converts it to UTF-8 when
// its Content-Type names another charset.
func decodePart(part *gmail.MessagePart) string {
	raw, ok := decodeBase64URL(part.Body.Data)
	if !ok {
		return ""
	}

	cs := partCharset(part)
	if cs == "" || strings.EqualFold(cs, "utf-8") || strings.EqualFold(cs, "us-ascii") {
		return string(raw)
	}

	r, err := charset.Reader(cs, strings.NewReader(string(raw)))
	if err != nil {
		return string(raw)
	}
	converted, err := io.ReadAll(r)
	if err != nil {
		return string(raw)
	}
	return string(converted)
}

func partCharset(part *gmail.MessagePart) string {
	ct := HeaderValue(part.Headers, "Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

func mediaType(part *gmail.MessagePart) string {
	if part.MimeType != "" {
		return part.MimeType
	}
	mt, _, err := mime.ParseMediaType(HeaderValue(part.Headers, "Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}
