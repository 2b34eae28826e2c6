// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package invoker

import (
	"bytes"
	"os"
	"strings"
)

// boundedBuffer keeps the first limit bytes written to it and silently
// discards the rest, so a chatty process never blocks on a full pipe.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}

// blockedEnvSuffixes and blockedEnvNames keep credentials of the parent
// process out of skill subprocesses.
var (
	blockedEnvSuffixes = []string{"_API_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_CREDENTIAL", "_CREDENTIALS"}
	blockedEnvNames    = map[string]bool{
		"AWS_ACCESS_KEY_ID":     true,
		"AWS_SECRET_ACCESS_KEY": true,
		"AWS_SESSION_TOKEN":     true,
		"GITHUB_TOKEN":          true,
		"OPENAI_API_KEY":        true,
		"ANTHROPIC_API_KEY":     true,
		"MINIAGENT_LLM_API_KEY": true,
	}
)

func envBlocked(name string) bool {
	upper := strings.ToUpper(name)
	if blockedEnvNames[upper] {
		return true
	}
	for _, suffix := range blockedEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// filterEnv returns environ without blocked variables, followed by extra.
func filterEnv(environ []string, extra ...string) []string {
	out := make([]string, 0, len(environ)+len(extra))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if envBlocked(name) {
			continue
		}
		out = append(out, kv)
	}
	return append(out, extra...)
}

func parentEnv() []string {
	return os.Environ()
}
