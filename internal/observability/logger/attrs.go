// Copyright 2026 The Keyring Authors
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

package logger

import "log/slog"

// Common attribute keys for consistent logging across the application

// Request attributes
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}

func UserAgent(ua string) slog.Attr {
	return slog.String("user_agent", ua)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func Duration(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Keyring attributes
func Fingerprint(fp string) slog.Attr {
	return slog.String("fingerprint", fp)
}

func KeyID(id string) slog.Attr {
	return slog.String("key_id", id)
}

func StoreName(name string) slog.Attr {
	return slog.String("store", name)
}

func Domain(domain string) slog.Attr {
	return slog.String("domain", domain)
}

func Label(label string) slog.Attr {
	return slog.String("label", label)
}

func Policy(policy string) slog.Attr {
	return slog.String("policy", policy)
}

func Seq(seq uint64) slog.Attr {
	return slog.Uint64("seq", seq)
}

func Slug(slug string) slog.Attr {
	return slog.String("slug", slug)
}

func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Error attributes
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Component attributes
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}

// String creates a generic string attribute
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}
