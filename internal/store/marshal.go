package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/ethos/internal/ir"
)

// encodePayload compresses the canonical JSON of doc.
func (s *Store) encodePayload(doc *ir.ProtocolIR) ([]byte, int, error) {
	canonical, err := ir.CanonicalDocument(doc)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal artifact: %w", err)
	}
	return s.enc.EncodeAll(canonical, nil), len(canonical), nil
}

// decodePayload inverts encodePayload.
func (s *Store) decodePayload(payload []byte) (*ir.ProtocolIR, error) {
	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress artifact: %w", err)
	}
	var doc ir.ProtocolIR
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &doc, nil
}

// marshalVersions stores the known versions as canonical JSON TEXT.
func marshalVersions(doc *ir.ProtocolIR) (string, error) {
	known := doc.KnownVersions()
	arr := make(ir.IRArray, len(known))
	for i, v := range known {
		arr[i] = ir.IRString(v.String())
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal versions: %w", err)
	}
	return string(data), nil
}

// unmarshalVersions parses TEXT written by marshalVersions.
func unmarshalVersions(data string) ([]ir.Version, error) {
	var texts []string
	if err := json.Unmarshal([]byte(data), &texts); err != nil {
		return nil, fmt.Errorf("unmarshal versions: %w", err)
	}
	out := make([]ir.Version, 0, len(texts))
	for _, t := range texts {
		v, err := ir.ParseVersion(t)
		if err != nil {
			return nil, fmt.Errorf("unmarshal versions: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
