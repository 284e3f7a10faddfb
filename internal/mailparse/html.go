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

	"golang.org/x/net/html"
)

var (
	tabsAndCR   = regexp.MustCompile(`[\t\r]+`)
	lineEdges   = regexp.MustCompile(` *\n *`)
	manyNewline = regexp.MustCompile(`\n{3,}`)
)

// blockTags end a line when closed.
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// StripHTML reduces an HTML document to plain text. Script and style
// content is dropped, entities are decoded and runs of blank lines are
// collapsed.
func StripHTML(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))

	var b strings.Builder
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidyText(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if isRawTag(name) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawTag(name) && skip > 0 {
				skip--
			}
			if blockTags[string(name)] {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawTag(name []byte) bool {
	n := string(name)
	return n == "script" || n == "style"
}

func tidyText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = tabsAndCR.ReplaceAllString(s, " ")
	s = lineEdges.ReplaceAllString(s, "\n")
	s = manyNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
