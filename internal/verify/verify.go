// Copyright © 2020 Intel Corporation
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

// Package verify checks the MoM's detached OpenPGP signature against a
// trusted keyring, satisfying internal/fetch.Verifier.
package verify

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/crypto/openpgp"
)

// PGPVerifier checks a detached signature against one of the keys in
// KeyRing. The zero value has a nil KeyRing and rejects everything --
// callers must load a real keyring before wiring this into a Fetcher.
type PGPVerifier struct {
	KeyRing openpgp.EntityList
}

// LoadKeyRing reads an armored or binary OpenPGP public keyring, the way a
// swupd install would ship its signing key alongside the binary.
func LoadKeyRing(data []byte) (openpgp.EntityList, error) {
	ring, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err == nil {
		return ring, nil
	}
	ring, armorErr := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if armorErr != nil {
		return nil, errors.Wrap(err, "couldn't parse keyring as binary or armored OpenPGP")
	}
	return ring, nil
}

// Verify checks signature as a detached OpenPGP signature over data,
// produced by one of the entities in v.KeyRing.
func (v PGPVerifier) Verify(data, signature []byte) error {
	if len(v.KeyRing) == 0 {
		return errors.New("no keys loaded in keyring")
	}
	_, err := openpgp.CheckDetachedSignature(v.KeyRing, bytes.NewReader(data), bytes.NewReader(signature))
	if err != nil {
		return errors.Wrap(err, "detached signature check failed")
	}
	return nil
}

// NoopVerifier accepts any signature unconditionally. It exists for tests
// and offline/dev mirrors that have no keyring to check against -- wiring
// it into a Fetcher is always an explicit caller choice, the same as
// leaving Verify nil.
type NoopVerifier struct{}

// Verify always succeeds.
func (NoopVerifier) Verify(data, signature []byte) error { return nil }
