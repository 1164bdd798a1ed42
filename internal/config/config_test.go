package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infuse/internal/schedule"
)

const sample = `
device:
  id: "0102030405060708"
  name: "infuse-test-01"
aead:
  algorithm: chacha20poly1305
  network_key_hex: "00112233445566778899aabbccddeeff0011223344556677889900112233"
watchdog:
  hw_timeout: 30s
  warning_margin: 5s
loggers:
  - name: flash
    backend: memring
    loggers_mask_bit: 0
schedule:
  - task_id: 1
    validity:
      - kind: always
    periodicity:
      kind: fixed
      period_s: 5
    timeout_s: 2
    executor: workqueue
    sinks:
      - loggers_mask: 1
        tdf_mask: 1
`

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "infuse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "infuse-test-01", cfg.Device.Name)
	assert.Equal(t, "chacha20poly1305", cfg.AEAD.Algorithm)

	rows, err := cfg.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint16(1), rows[0].TaskID)
	assert.Equal(t, schedule.PeriodicityFixed, rows[0].Period.Kind)
	assert.Equal(t, uint32(5), rows[0].Period.PeriodS)
	assert.Equal(t, uint32(2), rows[0].TimeoutS)
}
