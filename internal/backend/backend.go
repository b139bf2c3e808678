// Package backend defines the Protocol Backend capability set and the
// registry that maps implementation identifiers to backend constructors.
//
// A backend covers both build-time schema ingestion (ExtractProtocolIR) and
// runtime interaction with a live node (NormalizeOutput, Call). Concrete
// backends live in sub-packages; builtin assembles the process-wide registry.
package backend

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/normalize"
	"github.com/roach88/ethos/internal/transport"
)

// Backend is the capability set every implementation provides.
type Backend interface {
	// Name returns the implementation identifier.
	Name() ir.Implementation

	// Capabilities returns the advertised tags; always includes ir.CapRPC.
	Capabilities() []ir.Capability

	// ExtractProtocolIR reads one raw schema and produces a draft fragment.
	// Malformed entries are skipped and reported as warnings; a source that
	// cannot be read at all fails with *ParseError.
	ExtractProtocolIR(src Source) (*Extraction, error)

	// NormalizeOutput maps a decoded live response (json.Number for
	// numbers) into canonical form. It must be pure.
	NormalizeOutput(v any) any

	// Call performs one RPC against a live node. It is safe for concurrent
	// use and honors ctx's deadline, returning transport.ErrTimeout on
	// expiry.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Connector is implemented by backends whose live endpoint can be set after
// construction, e.g. from a config file.
type Connector interface {
	Connect(cfg transport.Config) error
}

// RuleDriven is implemented by backends whose response normalization is
// table-driven. Callers that loaded their own rule tables install them
// with SetOutputRules before the first call.
type RuleDriven interface {
	OutputRules() normalize.OutputRules
	SetOutputRules(normalize.OutputRules)
}

// Factory is a zero-argument backend constructor.
type Factory func() Backend

// Source locates one raw schema for one version.
type Source struct {
	Locator string
	Version ir.Version
}

// Extraction is an adapter's output: a draft fragment in which every
// descriptor's range starts at the source version, plus warnings for the
// entries that were skipped.
type Extraction struct {
	IR       *ir.ProtocolIR
	Warnings []Warning
}

// Warning records a skipped or adjusted schema entry.
type Warning struct {
	Source  string `json:"source"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Source + ": " + w.Subject + ": " + w.Message
}

// Supports reports whether b advertises capability c.
func Supports(b Backend, c ir.Capability) bool {
	return slices.Contains(b.Capabilities(), c)
}
