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

package trust

import "time"

// Stamps counts usage events.  A zero First or Last means the event has
// never happened.
type Stamps struct {
	Count uint64
	First time.Time
	Last  time.Time
}

// touch records one usage at now.  Count never decreases and First is
// set exactly once.
func (s *Stamps) touch(now time.Time) {
	s.Count++
	if s.First.IsZero() {
		s.First = now
	}
	s.Last = now
}

// Stats aggregates usage data for a binding or a stored key.  It can
// inform key-transition decisions: a key that encrypted a thousand
// messages deserves more scrutiny on rotation than one never used.
type Stats struct {
	Created      time.Time
	Updated      time.Time
	Encryption   Stamps
	Verification Stamps
}

func newStats(now time.Time) Stats {
	return Stats{Created: now, Updated: now}
}
