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

package core

import "fmt"

// NetworkPolicy describes how much network exposure a store tolerates
// when its keys are refreshed from remote directories.  The levels form
// a total order: Offline < Anonymized < Encrypted < Insecure.
type NetworkPolicy uint8

const (
	// PolicyOffline forbids any network access.
	PolicyOffline NetworkPolicy = iota

	// PolicyAnonymized permits network access only through an
	// anonymizing transport (a configured proxy).
	PolicyAnonymized

	// PolicyEncrypted permits direct network access over encrypted
	// transports.
	PolicyEncrypted

	// PolicyInsecure permits any transport, including plaintext.
	PolicyInsecure
)

// String returns the canonical lowercase name of the policy.
func (p NetworkPolicy) String() string {
	switch p {
	case PolicyOffline:
		return "offline"
	case PolicyAnonymized:
		return "anonymized"
	case PolicyEncrypted:
		return "encrypted"
	case PolicyInsecure:
		return "insecure"
	}
	return fmt.Sprintf("networkpolicy(%d)", uint8(p))
}

// ParseNetworkPolicy parses a policy name as produced by String.
func ParseNetworkPolicy(s string) (NetworkPolicy, error) {
	switch s {
	case "offline":
		return PolicyOffline, nil
	case "anonymized":
		return PolicyAnonymized, nil
	case "encrypted":
		return PolicyEncrypted, nil
	case "insecure":
		return PolicyInsecure, nil
	}
	return PolicyOffline, fmt.Errorf("unknown network policy %q", s)
}

// Allows reports whether an operation requiring exposure level required
// may run under policy p.
func (p NetworkPolicy) Allows(required NetworkPolicy) bool {
	return required <= p
}
