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

// Package pgptest generates small OpenPGP keys for tests.
package pgptest

import (
	"io"
	"testing"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/opentrusty/keyring/internal/pgp"
)

// config keeps test keys small so generation stays fast.
var config = &packet.Config{RSABits: 1024}

// GenerateEntity creates a fresh signed entity with one identity and
// one encryption subkey.  The private key stays attached so tests can
// issue further signatures.
func GenerateEntity(t testing.TB, name, email string) *openpgp.Entity {
	t.Helper()

	e, err := openpgp.NewEntity(name, "", email, config)
	if err != nil {
		t.Fatalf("generate entity: %v", err)
	}
	// Serializing the private key signs the freshly created
	// self-signatures; without this the public serialization is
	// incomplete.
	if err := e.SerializePrivate(io.Discard, config); err != nil {
		t.Fatalf("sign entity: %v", err)
	}
	return e
}

// Public returns the public TPK of e via a serialization round trip, so
// mutations of the returned key never touch e.
func Public(t testing.TB, e *openpgp.Entity) *pgp.TPK {
	t.Helper()

	tpk, err := pgp.FromEntity(e).Clone()
	if err != nil {
		t.Fatalf("clone entity: %v", err)
	}
	return tpk
}

// WithExtraSubkey returns the public TPK of e extended by the subkey of
// a freshly generated entity.  The grafted subkey gets a fresh binding
// signature from e's primary key, so the result survives the
// serialization round trips merge and the transports perform.
func WithExtraSubkey(t testing.TB, e *openpgp.Entity) *pgp.TPK {
	t.Helper()

	tpk := Public(t, e)
	donor := GenerateEntity(t, "Donor", "donor@example.org")
	if len(donor.Subkeys) == 0 {
		t.Fatal("donor entity has no subkeys")
	}
	sk := donor.Subkeys[0]
	sig := &packet.Signature{
		SigType:                   packet.SigTypeSubkeyBinding,
		PubKeyAlgo:                e.PrivateKey.PubKeyAlgo,
		Hash:                      config.Hash(),
		CreationTime:              config.Now(),
		IssuerKeyId:               &e.PrimaryKey.KeyId,
		FlagsValid:                true,
		FlagEncryptCommunications: true,
		FlagEncryptStorage:        true,
	}
	if err := sig.SignKey(sk.PublicKey, e.PrivateKey, config); err != nil {
		t.Fatalf("sign grafted subkey: %v", err)
	}
	sk.Sig = sig
	tpk.Entity().Subkeys = append(tpk.Entity().Subkeys, sk)
	return tpk
}

// SignedRotation returns the public TPK of successor carrying a
// certification from incumbent over successor's identity.  This is the
// delegation signature that lets a binding rotate without caller
// intervention.
func SignedRotation(t testing.TB, successor, incumbent *openpgp.Entity) *pgp.TPK {
	t.Helper()

	for name := range successor.Identities {
		if err := successor.SignIdentity(name, incumbent, config); err != nil {
			t.Fatalf("sign identity %q: %v", name, err)
		}
	}
	return Public(t, successor)
}
