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
	"regexp"
	"strings"
)

// ReplyExtractor isolates the newly written part of an email reply.
type ReplyExtractor interface {
	ExtractReply(body string) (string, error)
}

// NopExtractor returns the body unchanged.
type NopExtractor struct{}

// ExtractReply implements ReplyExtractor.
func (NopExtractor) ExtractReply(body string) (string, error) { return body, nil }

var (
	wroteLine    = regexp.MustCompile(`(?i)^\s*on\b.+\bwrote:\s*$`)
	wroteStart   = regexp.MustCompile(`(?i)^\s*on\b.+`)
	wroteEnd     = regexp.MustCompile(`(?i)\bwrote:\s*$`)
	originalLine = regexp.MustCompile(`(?i)^\s*-{2,}\s*original message\s*-{2,}\s*$`)
	outlookRule  = regexp.MustCompile(`^\s*_{20,}\s*$`)
)

// QuoteStripper drops quoted history from a reply: everything from the
// first "On ... wrote:" attribution, "Original Message" separator or
// Outlook rule onward, any ">"-quoted lines, and a trailing "-- " signature.
type QuoteStripper struct{}

// ExtractReply implements ReplyExtractor.
func (QuoteStripper) ExtractReply(body string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	kept := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if wroteLine.MatchString(line) || originalLine.MatchString(line) || outlookRule.MatchString(line) {
			break
		}
		// Attribution lines are often wrapped across two lines.
		if i+1 < len(lines) && wroteStart.MatchString(line) && !wroteEnd.MatchString(line) && wroteEnd.MatchString(lines[i+1]) {
			break
		}
		if line == "-- " || line == "--" {
			break
		}
		if strings.HasPrefix(strings.TrimLeft(line, " "), ">") {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n")), nil
}

// NewReplyExtractor selects an extractor by name: "quotes" strips quoted
// history, anything else keeps the body as-is.
func NewReplyExtractor(name string) ReplyExtractor {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "quotes":
		return QuoteStripper{}
	default:
		return NopExtractor{}
	}
}
