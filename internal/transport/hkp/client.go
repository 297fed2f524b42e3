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

// Package hkp fetches keys from HKP keyservers (the /pks/lookup
// machine-readable interface).  The client enforces the network policy
// it was built with: an offline client refuses to fetch at all, and
// the stricter policies constrain transport before the first byte is
// sent.
package hkp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/pgp"
	"github.com/opentrusty/keyring/internal/trust"
)

// Config holds keyserver client configuration.
type Config struct {
	// ServerURL is the keyserver base URL, e.g.
	// "https://keys.openpgp.org".
	ServerURL string
	// ProxyURL routes requests through a proxy.  Required under the
	// anonymized policy.
	ProxyURL string
	// Policy is the network policy of the store this client serves.
	Policy core.NetworkPolicy
	// Timeout bounds one request end to end.
	Timeout time.Duration
}

// Client is a policy-gated HKP client.
type Client struct {
	base   *url.URL
	policy core.NetworkPolicy
	client *http.Client
}

// NewClient validates cfg against the policy and builds the client.
// Offline clients are constructible (a store may exist before anyone
// fetches for it) but refuse every Fetch.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid keyserver url %q: %w", cfg.ServerURL, err)
	}

	switch cfg.Policy {
	case core.PolicyOffline:
		// Nothing to validate; Fetch refuses anyway.
	case core.PolicyAnonymized:
		if base.Scheme != "https" {
			return nil, fmt.Errorf("%w: policy %s requires an https keyserver, got %q",
				trust.ErrPolicyMismatch, cfg.Policy, base.Scheme)
		}
		if cfg.ProxyURL == "" {
			return nil, fmt.Errorf("%w: policy %s requires a proxy",
				trust.ErrPolicyMismatch, cfg.Policy)
		}
	case core.PolicyEncrypted:
		if base.Scheme != "https" {
			return nil, fmt.Errorf("%w: policy %s requires an https keyserver, got %q",
				trust.ErrPolicyMismatch, cfg.Policy, base.Scheme)
		}
	case core.PolicyInsecure:
		if base.Scheme != "https" && base.Scheme != "http" {
			return nil, fmt.Errorf("invalid keyserver scheme %q", base.Scheme)
		}
	default:
		return nil, fmt.Errorf("unknown network policy %d", cfg.Policy)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", cfg.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		base:   base,
		policy: cfg.Policy,
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   timeout,
		},
	}, nil
}

// Fetch retrieves the armored key with the given fingerprint.
func (c *Client) Fetch(ctx context.Context, fingerprint string) (*pgp.TPK, error) {
	if c.policy == core.PolicyOffline {
		return nil, fmt.Errorf("%w: offline policy forbids fetching", trust.ErrPolicyMismatch)
	}

	fingerprint, err := trust.NormalizeFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}

	u := *c.base
	u.Path = "/pks/lookup"
	u.RawQuery = url.Values{
		"op":      {"get"},
		"options": {"mr"},
		"search":  {"0x" + fingerprint},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trust.ErrTransport, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trust.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: key %s not on server", trust.ErrNotFound, fingerprint)
	default:
		return nil, fmt.Errorf("%w: keyserver returned %s", trust.ErrTransport, resp.Status)
	}

	body := io.LimitReader(resp.Body, 1<<22)
	tpk, err := pgp.ParseArmored(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trust.ErrInvalidKeyMaterial, err)
	}
	// A directory may serve anything; only the fingerprint the caller
	// asked for is acceptable.
	if tpk.Fingerprint() != fingerprint {
		return nil, fmt.Errorf("%w: server returned %s instead of %s",
			trust.ErrInvalidKeyMaterial, tpk.Fingerprint(), fingerprint)
	}
	return tpk, nil
}
