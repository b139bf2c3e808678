package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/normalize"
)

func TestRegistryIsSealed(t *testing.T) {
	r := Registry()
	assert.True(t, r.Sealed())
	assert.Same(t, r, Registry())

	err := r.Register("lnd", func() backend.Backend { return nil })
	assert.ErrorIs(t, err, backend.ErrRegistrySealed)
}

func TestRegistryLookup(t *testing.T) {
	for _, impl := range Registry().Implementations() {
		t.Run(string(impl), func(t *testing.T) {
			b, err := Registry().Lookup(impl)
			require.NoError(t, err)
			assert.Equal(t, impl, b.Name())
			assert.True(t, backend.Supports(b, ir.CapRPC))
		})
	}

	_, err := Registry().Lookup("lnd")
	assert.True(t, backend.IsUnknownImplementation(err))
}

func TestEveryBackendHasRules(t *testing.T) {
	rules := normalize.MustDefaultRules().Implementations()
	assert.Equal(t, rules, Registry().Implementations())
}
