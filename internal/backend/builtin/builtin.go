// Package builtin assembles the process-wide backend registry from an
// explicit registration list.
package builtin

import (
	"sync"

	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/backend/bitcoincore"
	"github.com/roach88/ethos/internal/backend/corelightning"
	"github.com/roach88/ethos/internal/ir"
)

var factories = []struct {
	impl    ir.Implementation
	factory backend.Factory
}{
	{ir.BitcoinCore, bitcoincore.New},
	{ir.CoreLightning, corelightning.New},
}

var (
	once     sync.Once
	registry *backend.Registry
)

// Registry returns the sealed registry of built-in backends. It is built on
// first use and read-only afterwards.
func Registry() *backend.Registry {
	once.Do(func() {
		r := backend.NewRegistry()
		for _, f := range factories {
			if err := r.Register(f.impl, f.factory); err != nil {
				panic(err)
			}
		}
		r.Seal()
		registry = r
	})
	return registry
}
