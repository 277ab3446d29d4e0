//go:build linux

package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/apmagent/model"
)

func requireProc(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("procfs not mounted")
	}
}

func TestProcessProvider(t *testing.T) {
	requireProc(t)
	p := NewProcessProvider()

	first := model.NewMetricSet(time.Now())
	require.NoError(t, p.Gather(context.Background(), first))
	assert.Greater(t, first.Samples["system.process.memory.rss.bytes"], 0.0)
	assert.NotContains(t, first.Samples, "system.process.cpu.total.norm.pct")

	time.Sleep(10 * time.Millisecond)
	second := model.NewMetricSet(time.Now())
	require.NoError(t, p.Gather(context.Background(), second))
	assert.Contains(t, second.Samples, "system.process.cpu.total.norm.pct")
}

func TestSystemProvider(t *testing.T) {
	requireProc(t)
	p := NewSystemProvider()

	ms := model.NewMetricSet(time.Now())
	require.NoError(t, p.Gather(context.Background(), ms))
	assert.Greater(t, ms.Samples["system.memory.total"], 0.0)
}
