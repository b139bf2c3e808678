package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows a future
// algorithm migration.
const (
	DomainProtocolIR = "ethos/protocol-ir/v1"
	DomainSnapshot   = "ethos/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content hash of the document's canonical encoding.
// Two documents hash equal iff they are semantically identical.
func (d *ProtocolIR) Hash() (string, error) {
	canonical, err := CanonicalDocument(d)
	if err != nil {
		return "", fmt.Errorf("ProtocolIR hash: %w", err)
	}
	return hashWithDomain(DomainProtocolIR, canonical), nil
}

// Hash returns the content hash of the snapshot's canonical encoding.
func (s *VersionSnapshot) Hash() (string, error) {
	canonical, err := CanonicalDocument(s)
	if err != nil {
		return "", fmt.Errorf("VersionSnapshot hash: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when the document is known to be valid.
func (d *ProtocolIR) MustHash() string {
	h, err := d.Hash()
	if err != nil {
		panic(err)
	}
	return h
}
