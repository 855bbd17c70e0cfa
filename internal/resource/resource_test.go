package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticClampsToOne(t *testing.T) {
	assert.Equal(t, 1.0, Static(0.5).Factor())
	assert.Equal(t, 1.0, Static(1.0).Factor())
	assert.Equal(t, 2.0, Static(2.0).Factor())
}

func writeLoadAvg(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loadavg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAverageThresholds(t *testing.T) {
	tests := []struct {
		name string
		load string
		cpus int
		want float64
	}{
		{"idle", "0.10 0.20 0.30 1/100 1234", 4, 1.0},
		{"at threshold", "3.20 0.0 0.0 1/100 1234", 4, 1.0},
		{"elevated", "3.50 0.0 0.0 1/100 1234", 4, 1.5},
		{"saturated", "3.80 0.0 0.0 1/100 1234", 4, 2.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &LoadAverage{path: writeLoadAvg(t, tt.load), cpus: tt.cpus}
			assert.Equal(t, tt.want, l.Factor())
		})
	}
}

func TestLoadAverageUnreadable(t *testing.T) {
	l := &LoadAverage{path: filepath.Join(t.TempDir(), "missing"), cpus: 4}
	assert.Equal(t, 1.0, l.Factor(), "errors must not throttle")

	l = &LoadAverage{path: writeLoadAvg(t, "garbage"), cpus: 4}
	assert.Equal(t, 1.0, l.Factor())
}

func TestLoadAverageLast(t *testing.T) {
	l := &LoadAverage{path: writeLoadAvg(t, "1.25 0.0 0.0 1/100 1"), cpus: 4}
	l.Factor()
	assert.Equal(t, 1.25, l.Last())
}
