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

// Package refresher keeps bound keys fresh by periodically fetching
// updated copies from a remote directory and routing them through the
// normal import protocol.  A refreshed key therefore enjoys exactly the
// same conflict rules as a manual import; the refresher holds no
// special trust powers.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/observability/metrics"
	"github.com/opentrusty/keyring/internal/pgp"
	"github.com/opentrusty/keyring/internal/trust"
)

// Fetcher retrieves the current published copy of a key.  Fetch runs
// with no store or binding locks held.
type Fetcher interface {
	Fetch(ctx context.Context, fingerprint string) (*pgp.TPK, error)
}

// Config tunes the refresh loops.
type Config struct {
	// Interval is the base period between refresh cycles.
	Interval time.Duration
	// Jitter is the maximum random delay added to each period, so
	// many clients do not hit the directory in lockstep.
	Jitter time.Duration
	// Timeout bounds one fetch.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Manager runs one refresh loop per store.
type Manager struct {
	svc     *trust.Service
	fetcher Fetcher
	cfg     Config
	ins     *metrics.Instruments

	mu      sync.Mutex
	started map[string]struct{}
	cancels []context.CancelFunc
	done    []<-chan struct{}
}

// NewManager creates a refresh manager.  ins may be nil.
func NewManager(svc *trust.Service, fetcher Fetcher, cfg Config, ins *metrics.Instruments) *Manager {
	return &Manager{
		svc:     svc,
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		ins:     ins,
		started: make(map[string]struct{}),
	}
}

// Start launches the refresh loop for st and registers its cancellation
// handle on the store, so deleting the store stops the loop and waits
// for any in-flight cycle.  Starting a store twice is a no-op, so Start
// can serve as an OnStoreOpen hook without double-scheduling stores
// that were already opened at boot.
func (m *Manager) Start(st *trust.Store) {
	m.mu.Lock()
	if _, ok := m.started[st.ID()]; ok {
		m.mu.Unlock()
		return
	}
	m.started[st.ID()] = struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancels = append(m.cancels, cancel)
	m.done = append(m.done, done)
	m.mu.Unlock()

	st.AttachRefresher(cancel, done)
	go m.run(ctx, st, done)
}

// StopAll cancels every loop and waits for them to finish.
func (m *Manager) StopAll() {
	m.mu.Lock()
	cancels, done := m.cancels, m.done
	m.cancels, m.done = nil, nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, ch := range done {
		<-ch
	}
}

func (m *Manager) run(ctx context.Context, st *trust.Store, done chan<- struct{}) {
	defer close(done)

	slog.InfoContext(ctx, "refresher started",
		slog.String("component", "refresher"),
		slog.String("store", st.Domain()+"/"+st.Name()),
		slog.String("policy", st.Policy().String()),
	)

	timer := time.NewTimer(m.period())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		m.refresh(ctx, st)
		timer.Reset(m.period())
	}
}

func (m *Manager) period() time.Duration {
	period := m.cfg.Interval
	if m.cfg.Jitter > 0 {
		period += time.Duration(rand.Int63n(int64(m.cfg.Jitter)))
	}
	return period
}

// refresh runs one cycle over the store's bindings.  Transport failures
// are recorded and contained; they never unbind a key or stop the loop.
func (m *Manager) refresh(ctx context.Context, st *trust.Store) {
	if st.Policy() == core.PolicyOffline {
		_ = m.svc.Audit().Append(ctx, trust.LogEntry{
			StoreID: st.ID(),
			Slug:    storeSlug(st),
			Status:  "skipped (offline)",
		})
		return
	}

	bindings, err := trust.Collect(st.Bindings())
	if err != nil {
		slog.ErrorContext(ctx, "refresh cycle failed to list bindings",
			slog.String("component", "refresher"),
			slog.String("store", st.Domain()+"/"+st.Name()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, b := range bindings {
		if ctx.Err() != nil {
			return
		}
		fingerprint := b.Fingerprint()
		if fingerprint == "" {
			continue
		}
		m.refreshBinding(ctx, st, b, fingerprint)
	}
}

func (m *Manager) refreshBinding(ctx context.Context, st *trust.Store, b *trust.Binding, fingerprint string) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	candidate, err := m.fetcher.Fetch(fetchCtx, fingerprint)
	cancel()
	m.ins.AddRefreshFetch(ctx)

	if err != nil {
		m.ins.AddTransportError(ctx)
		terr := fmt.Errorf("%w: %v", trust.ErrTransport, err)
		_ = m.svc.Audit().Append(ctx, trust.LogEntry{
			StoreID:     st.ID(),
			BindingID:   b.ID(),
			Fingerprint: fingerprint,
			Slug:        bindingSlug(st, b),
			Status:      "refresh failed",
			Error:       terr.Error(),
		})
		return
	}

	// The fetched copy goes through the same gate as a manual import;
	// Import audits the outcome itself.
	if _, err := b.Import(ctx, candidate); err != nil {
		if errors.Is(err, trust.ErrConflict) {
			m.ins.AddConflict(ctx)
			return
		}
		slog.WarnContext(ctx, "refresh import failed",
			slog.String("component", "refresher"),
			slog.String("binding", bindingSlug(st, b)),
			slog.String("error", err.Error()),
		)
		return
	}
	m.ins.AddMerge(ctx)
}

func storeSlug(st *trust.Store) string {
	return fmt.Sprintf("store %s/%s", st.Domain(), st.Name())
}

func bindingSlug(st *trust.Store, b *trust.Binding) string {
	return fmt.Sprintf("binding %s/%s/%s", st.Domain(), st.Name(), b.Label())
}
