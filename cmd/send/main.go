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

// Gmail Send Command
//
// Standalone CLI tool that sends one text message through a configured
// Gmail account. A target of "thread:<id>" (or a bare thread id) replies
// to everyone in that thread; anything else starts a new thread to that
// address.
//
// Usage:
//
//	go run ./cmd/send/ --to thread:18c2a0f3b1d4e5f6 --text "On it" [--account work]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bcem/mailchannel/internal/bridge"
	"github.com/bcem/mailchannel/internal/channel"
	"github.com/bcem/mailchannel/internal/config"
	"github.com/bcem/mailchannel/internal/gog"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	accountFlag := flag.String("account", "", "Gmail account id (default: the default account)")
	toFlag := flag.String("to", "", "Target: thread:<id>, a thread id, or an email address (required)")
	textFlag := flag.String("text", "", "Message text; \"-\" reads stdin (required)")
	timeoutFlag := flag.Duration("timeout", 60*time.Second, "Send timeout")
	flag.Parse()

	if strings.TrimSpace(*toFlag) == "" || *textFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --to and --text are required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	text := *textFlag
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: read stdin: %v\n", err)
			os.Exit(1)
		}
		text = string(data)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	acct := cfg.Gmail.Resolve(*accountFlag)
	if !acct.Configured {
		slog.Error("cannot send", "account", acct.AccountID, "error", channel.ErrNotConfigured)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	client := gog.NewClient(gog.ExecRunner{Binary: cfg.GogBinary}, acct.GogAccount)
	b := bridge.New(bridge.Config{
		AccountID: acct.AccountID,
		Sender:    client,
	})

	target, err := b.SendText(ctx, *toFlag, text)
	if err != nil {
		var exitErr *gog.ExitError
		if errors.As(err, &exitErr) {
			slog.Error("gog send failed",
				"account", acct.AccountID,
				"exit_code", exitErr.Code,
				"stderr", exitErr.Stderr,
			)
		} else {
			slog.Error("send failed", "account", acct.AccountID, "error", err)
		}
		os.Exit(1)
	}

	slog.Info("message sent", "account", acct.AccountID, "to", target)
	fmt.Println(target)
}
