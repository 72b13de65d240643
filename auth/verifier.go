// Copyright 2024 Finatext Ltd.
//
//    Licensed under the Apache License, Version 2.0 (the "License"); you may
//    not use this file except in compliance with the License. You may obtain
//    a copy of the License at
//
//         http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
//    WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
//    License for the specific language governing permissions and limitations
//    under the License.

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	gErrors "github.com/Finatext/orgu/errors"
)

// SignatureHeader carries the webhook HMAC GitHub computes over the raw
// request body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

var (
	// ErrSignatureMissing is returned when the signature header is absent.
	ErrSignatureMissing = gErrors.NewUnauthorizedError("missing X-Hub-Signature-256 header")
	// ErrSignatureMalformed is returned when the header is not a
	// sha256=<64 hex> string.
	ErrSignatureMalformed = gErrors.NewUnauthorizedError("malformed X-Hub-Signature-256 header")
	// ErrSignatureMismatch is returned when the HMAC comparison fails.
	ErrSignatureMismatch = gErrors.NewUnauthorizedError("signature mismatch")
)

// VerifySignature checks the webhook HMAC against the shared secret. It
// must be called with the raw body bytes as received, before any JSON
// decoding. The comparison is constant-time.
func VerifySignature(body []byte, signature, secret string) error {
	if signature == "" {
		return ErrSignatureMissing
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return ErrSignatureMalformed
	}
	hexDigest := signature[len(signaturePrefix):]
	if len(hexDigest) != sha256.Size*2 {
		return ErrSignatureMalformed
	}
	if _, err := hex.DecodeString(hexDigest); err != nil {
		return ErrSignatureMalformed
	}

	expected := Sign(body, secret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the sha256=<hex> signature of body with secret. Used by
// the verifier and by tests crafting valid webhook requests.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	// Hash.Write never returns an error.
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
