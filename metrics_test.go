package jsbridge

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng, err := NewEngineWithConfig(&Config{Registerer: reg, DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()

	ctx, err := eng.NewContext()
	require.NoError(t, err)
	sibling, err := ctx.NewSibling()
	require.NoError(t, err)

	v, err := ctx.Evaluate("({})", 1)
	require.NoError(t, err)
	pv, err := Protect(ctx.Context, v)
	require.NoError(t, err)
	pv.Release()

	require.NoError(t, sibling.Close())
	require.NoError(t, ctx.Close())

	// the sibling retained the group once
	assert.EqualValues(t, 1, testutil.ToFloat64(eng.metrics.retains.WithLabelValues("group")))
	assert.EqualValues(t, 2, testutil.ToFloat64(eng.metrics.releases.WithLabelValues("group")))
	assert.EqualValues(t, 2, testutil.ToFloat64(eng.metrics.releases.WithLabelValues("context")))
	assert.EqualValues(t, 1, testutil.ToFloat64(eng.metrics.protects))
	assert.EqualValues(t, 1, testutil.ToFloat64(eng.metrics.unprotect))

	expected := `
# HELP jsbridge_value_protects_total Values protected from collection.
# TYPE jsbridge_value_protects_total counter
jsbridge_value_protects_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "jsbridge_value_protects_total"))
}

func TestMetricsDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng, err := NewEngineWithConfig(&Config{Registerer: reg})
	require.NoError(t, err)
	defer eng.Close()

	_, err = NewEngineWithConfig(&Config{Registerer: reg})
	assert.Error(t, err)
}
