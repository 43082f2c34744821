package canonical

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalIsKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": true, "x": false}}
	b := map[string]any{"c": map[string]any{"x": false, "y": true}, "a": 1, "b": 2}

	ja, err := Marshal(a)
	require.NoError(t, err)
	jb, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
}

func TestHashIsDeterministic(t *testing.T) {
	v := map[string]any{"symbol": "EURUSD", "signal": map[string]any{"rsi": 71.2}}

	h1, err := Hash(v)
	require.NoError(t, err)
	h2, err := Hash(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // sha-256 hex
}

func TestFingerprintDistinguishesEvents(t *testing.T) {
	sig := map[string]any{"action": "buy"}

	fp1, err := Fingerprint("c-1", "EURUSD", sig)
	require.NoError(t, err)
	fp2, err := Fingerprint("c-1", "EURUSD", sig)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	fp3, err := Fingerprint("c-2", "EURUSD", sig)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)

	fp4, err := Fingerprint("c-1", "GBPUSD", sig)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp4)
}

func TestHashStableUnderMapIteration(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same map always hashes the same", prop.ForAll(
		func(keys []string, val int) bool {
			m := map[string]any{}
			for _, k := range keys {
				m[k] = val
			}
			h1, err1 := Hash(m)
			h2, err2 := Hash(m)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int(),
	))

	properties.TestingRun(t)
}
