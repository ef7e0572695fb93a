// Package hashing produces the deterministic digest that anchors parcel
// metadata on the ledger and later backs certificate verification. The same
// logical metadata must always yield the same digest regardless of which
// client computed it, so encoding is canonical: fixed field order, sorted
// document digests, no timestamps or salts inside the payload.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"

	dErrors "landledger/pkg/domain-errors"
)

// DigestPrefix identifies the hash algorithm in stored digests.
const DigestPrefix = "sha256:"

// Metadata is the canonical payload digested for a parcel. Field order is
// fixed by the struct definition; json.Marshal emits struct fields in
// declaration order, which keeps the encoding stable across clients.
type Metadata struct {
	OwnerID         string   `json:"owner_id"`
	Location        string   `json:"location"`
	AreaSqMeters    float64  `json:"area_sq_meters"`
	DocumentDigests []string `json:"document_digests"`
}

// Digest canonicalizes the metadata and returns its SHA-256 digest as
// "sha256:<hex>". It is pure: equal inputs always produce equal outputs.
func Digest(meta Metadata) (string, error) {
	canonical := meta
	canonical.DocumentDigests = slices.Clone(meta.DocumentDigests)
	slices.Sort(canonical.DocumentDigests)
	if canonical.DocumentDigests == nil {
		canonical.DocumentDigests = []string{}
	}

	b, err := json.Marshal(canonical)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeEncoding, "canonicalize parcel metadata")
	}
	sum := sha256.Sum256(b)
	return DigestPrefix + hex.EncodeToString(sum[:]), nil
}
