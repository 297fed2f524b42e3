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

// Package pgp wraps an OpenPGP transferable public key (TPK) and the
// small algebra the trust store needs over it: stable identifiers,
// packet-union merges, and rotation-signature checks.  All packet
// parsing and signature verification is delegated to
// golang.org/x/crypto/openpgp.
package pgp

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

// ErrNoKeyMaterial is returned when a parse yields no usable key.
var ErrNoKeyMaterial = errors.New("pgp: no key material")

// TPK is one transferable public key: a primary key together with its
// identities, subkeys, certifications and revocations.
type TPK struct {
	entity *openpgp.Entity
}

// Parse reads a single binary-encoded TPK.  When the input contains a
// keyring, only the first key is used.
func Parse(data []byte) (*TPK, error) {
	el, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pgp: malformed key material: %w", err)
	}
	if len(el) == 0 {
		return nil, ErrNoKeyMaterial
	}
	return &TPK{entity: el[0]}, nil
}

// ParseArmored reads a single ASCII-armored TPK.
func ParseArmored(r io.Reader) (*TPK, error) {
	el, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return nil, fmt.Errorf("pgp: malformed armored key material: %w", err)
	}
	if len(el) == 0 {
		return nil, ErrNoKeyMaterial
	}
	return &TPK{entity: el[0]}, nil
}

// FromEntity wraps an already-parsed entity.
func FromEntity(e *openpgp.Entity) *TPK {
	return &TPK{entity: e}
}

// Entity exposes the underlying entity.
func (t *TPK) Entity() *openpgp.Entity { return t.entity }

// Fingerprint returns the primary key fingerprint as uppercase hex.
func (t *TPK) Fingerprint() string {
	return strings.ToUpper(hex.EncodeToString(t.entity.PrimaryKey.Fingerprint[:]))
}

// KeyID returns the primary key id.
func (t *TPK) KeyID() uint64 {
	return t.entity.PrimaryKey.KeyId
}

// KeyIDString returns the primary key id as 16 hex digits.
func (t *TPK) KeyIDString() string {
	return fmt.Sprintf("%016X", t.entity.PrimaryKey.KeyId)
}

// SubkeyIDs returns the key ids of all subkeys.  Subkey ids are not
// guaranteed unique across keys.
func (t *TPK) SubkeyIDs() []uint64 {
	ids := make([]uint64, 0, len(t.entity.Subkeys))
	for _, sk := range t.entity.Subkeys {
		ids = append(ids, sk.PublicKey.KeyId)
	}
	return ids
}

// Serialize returns the binary encoding of the public parts.
func (t *TPK) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.entity.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("pgp: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

// Armor returns the ASCII-armored encoding of the public parts.
func (t *TPK) Armor() (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := t.entity.Serialize(w); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Clone returns an independent copy, detached from t via a
// serialization round trip.
func (t *TPK) Clone() (*TPK, error) {
	data, err := t.Serialize()
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Merge unions other into t in place.  Both keys must share a
// fingerprint.  Identities, third-party certifications, subkeys and
// revocations are unioned; for matching identities and subkeys the
// newest self-signature wins.  Merging the same key twice is a no-op.
func (t *TPK) Merge(other *TPK) error {
	if t.Fingerprint() != other.Fingerprint() {
		return fmt.Errorf("pgp: cannot merge %s into %s: fingerprint mismatch",
			other.Fingerprint(), t.Fingerprint())
	}

	t.mergeIdentities(other)
	t.mergeSubkeys(other)
	t.mergeRevocations(other)
	t.Normalize()
	return nil
}

func (t *TPK) mergeIdentities(other *TPK) {
	if t.entity.Identities == nil {
		t.entity.Identities = make(map[string]*openpgp.Identity)
	}
	for name, theirs := range other.entity.Identities {
		ours, ok := t.entity.Identities[name]
		if !ok {
			t.entity.Identities[name] = theirs
			continue
		}

		if theirs.SelfSignature != nil &&
			(ours.SelfSignature == nil ||
				theirs.SelfSignature.CreationTime.After(ours.SelfSignature.CreationTime)) {
			ours.SelfSignature = theirs.SelfSignature
		}

		seen := make(map[string]struct{}, len(ours.Signatures))
		for _, sig := range ours.Signatures {
			seen[sigDigest(sig)] = struct{}{}
		}
		for _, sig := range theirs.Signatures {
			if _, ok := seen[sigDigest(sig)]; !ok {
				ours.Signatures = append(ours.Signatures, sig)
				seen[sigDigest(sig)] = struct{}{}
			}
		}
	}
}

func (t *TPK) mergeSubkeys(other *TPK) {
	index := make(map[[20]byte]int, len(t.entity.Subkeys))
	for i, sk := range t.entity.Subkeys {
		index[sk.PublicKey.Fingerprint] = i
	}
	for _, theirs := range other.entity.Subkeys {
		i, ok := index[theirs.PublicKey.Fingerprint]
		if !ok {
			t.entity.Subkeys = append(t.entity.Subkeys, theirs)
			index[theirs.PublicKey.Fingerprint] = len(t.entity.Subkeys) - 1
			continue
		}
		ours := &t.entity.Subkeys[i]
		if theirs.Sig != nil &&
			(ours.Sig == nil || theirs.Sig.CreationTime.After(ours.Sig.CreationTime)) {
			ours.Sig = theirs.Sig
		}
	}
}

func (t *TPK) mergeRevocations(other *TPK) {
	seen := make(map[string]struct{}, len(t.entity.Revocations))
	for _, sig := range t.entity.Revocations {
		seen[sigDigest(sig)] = struct{}{}
	}
	for _, sig := range other.entity.Revocations {
		if _, ok := seen[sigDigest(sig)]; !ok {
			t.entity.Revocations = append(t.entity.Revocations, sig)
			seen[sigDigest(sig)] = struct{}{}
		}
	}
}

// Normalize sorts subkeys and revocations into a deterministic order so
// that serializations of merged keys are stable.
func (t *TPK) Normalize() {
	sort.SliceStable(t.entity.Subkeys, func(i, j int) bool {
		a, b := t.entity.Subkeys[i].PublicKey, t.entity.Subkeys[j].PublicKey
		if !a.CreationTime.Equal(b.CreationTime) {
			return a.CreationTime.Before(b.CreationTime)
		}
		return bytes.Compare(a.Fingerprint[:], b.Fingerprint[:]) < 0
	})
	sort.SliceStable(t.entity.Revocations, func(i, j int) bool {
		return t.entity.Revocations[i].CreationTime.Before(t.entity.Revocations[j].CreationTime)
	})
}

// SignedBy reports whether t carries a valid certification over one of
// its identities issued by signer's primary key.  Such a certification
// is how the incumbent key delegates to its successor during rotation.
func (t *TPK) SignedBy(signer *TPK) bool {
	issuer := signer.entity.PrimaryKey
	for _, ident := range t.entity.Identities {
		name := ident.Name
		if ident.UserId != nil {
			name = ident.UserId.Id
		}
		for _, sig := range ident.Signatures {
			if sig.IssuerKeyId == nil || *sig.IssuerKeyId != issuer.KeyId {
				continue
			}
			if err := issuer.VerifyUserIdSignature(name, t.entity.PrimaryKey, sig); err == nil {
				return true
			}
		}
	}
	return false
}

// sigDigest produces a stable identity for a signature packet, used to
// deduplicate unions.  Signatures that fail to serialize degrade to a
// field-based identity.
func sigDigest(sig *packet.Signature) string {
	var buf bytes.Buffer
	if err := sig.Serialize(&buf); err == nil {
		return buf.String()
	}
	issuer := uint64(0)
	if sig.IssuerKeyId != nil {
		issuer = *sig.IssuerKeyId
	}
	return fmt.Sprintf("%d/%d/%d", sig.SigType, issuer, sig.CreationTime.UnixNano())
}
