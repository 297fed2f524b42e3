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

package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Instruments bundles the trust store's counters.  A nil *Instruments
// is valid and counts nothing, so callers need no enabled checks.
type Instruments struct {
	imports         metric.Int64Counter
	merges          metric.Int64Counter
	rotations       metric.Int64Counter
	conflicts       metric.Int64Counter
	refreshFetches  metric.Int64Counter
	transportErrors metric.Int64Counter
}

// NewInstruments registers the trust store counters on the meter.
func NewInstruments(m *Meter) (*Instruments, error) {
	var ins Instruments
	var err error

	if ins.imports, err = m.CreateCounter(
		"keyring.imports", "Key imports accepted (adopt, merge or rotation)"); err != nil {
		return nil, err
	}
	if ins.merges, err = m.CreateCounter(
		"keyring.merges", "Imports resolved by merging into the bound key"); err != nil {
		return nil, err
	}
	if ins.rotations, err = m.CreateCounter(
		"keyring.rotations", "Bindings rotated to a successor key"); err != nil {
		return nil, err
	}
	if ins.conflicts, err = m.CreateCounter(
		"keyring.conflicts", "Imports rejected at the trust boundary"); err != nil {
		return nil, err
	}
	if ins.refreshFetches, err = m.CreateCounter(
		"keyring.refresh_fetches", "Background refresh fetch attempts"); err != nil {
		return nil, err
	}
	if ins.transportErrors, err = m.CreateCounter(
		"keyring.transport_errors", "Failed fetches from remote directories"); err != nil {
		return nil, err
	}
	return &ins, nil
}

func (i *Instruments) AddImport(ctx context.Context) {
	if i != nil {
		i.imports.Add(ctx, 1)
	}
}

func (i *Instruments) AddMerge(ctx context.Context) {
	if i != nil {
		i.merges.Add(ctx, 1)
	}
}

func (i *Instruments) AddRotation(ctx context.Context) {
	if i != nil {
		i.rotations.Add(ctx, 1)
	}
}

func (i *Instruments) AddConflict(ctx context.Context) {
	if i != nil {
		i.conflicts.Add(ctx, 1)
	}
}

func (i *Instruments) AddRefreshFetch(ctx context.Context) {
	if i != nil {
		i.refreshFetches.Add(ctx, 1)
	}
}

func (i *Instruments) AddTransportError(ctx context.Context) {
	if i != nil {
		i.transportErrors.Add(ctx, 1)
	}
}
