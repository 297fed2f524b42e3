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

// Package core holds process-wide context for the key store: the
// application domain, the directories shared state lives in, and the
// default network policy new stores are created under.
package core

import (
	"errors"
	"os"
	"path/filepath"
)

// Context is the process-wide configuration.  It is created once and
// never mutated afterwards.
type Context struct {
	domain string
	home   string
	lib    string
	policy NetworkPolicy
}

// Option configures a Context during construction.
type Option func(*Context)

// WithHome sets the directory containing shared state.
func WithHome(dir string) Option {
	return func(c *Context) { c.home = dir }
}

// WithLib sets the directory containing backend helpers.
func WithLib(dir string) Option {
	return func(c *Context) { c.lib = dir }
}

// WithNetworkPolicy sets the default network policy for stores created
// through this context.
func WithNetworkPolicy(p NetworkPolicy) Option {
	return func(c *Context) { c.policy = p }
}

// NewContext creates a Context.  domain should uniquely identify the
// application; a reversed fully qualified domain name is the suggested
// form.  The home directory is created if it does not exist.
func NewContext(domain string, opts ...Option) (*Context, error) {
	if domain == "" {
		return nil, errors.New("core: domain must not be empty")
	}

	c := &Context{
		domain: domain,
		policy: PolicyEncrypted,
	}

	if home, err := os.UserHomeDir(); err == nil {
		c.home = filepath.Join(home, ".keyring")
	} else {
		c.home = filepath.Join(os.TempDir(), ".keyring")
	}
	c.lib = filepath.Join("/usr/local", "lib", "keyring")

	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(c.home, 0o700); err != nil {
		return nil, err
	}

	return c, nil
}

// Domain returns the application domain of the context.
func (c *Context) Domain() string { return c.domain }

// Home returns the directory containing shared state.
func (c *Context) Home() string { return c.home }

// Lib returns the directory containing backend helpers.
func (c *Context) Lib() string { return c.lib }

// NetworkPolicy returns the default network policy.
func (c *Context) NetworkPolicy() NetworkPolicy { return c.policy }
