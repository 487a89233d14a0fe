package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(" ledgerd ", "test", Options{Output: &buf, Level: slog.LevelDebug})
	logger.Debug("executed", "outcome", "success")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "executed", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "ledgerd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "success", line["outcome"])
	require.Contains(t, line, "timestamp")
	require.NotContains(t, line, "msg")
}

func TestSetupHonoursLevelAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "ledger.log")
	logger := Setup("ledgerd", "", Options{Output: &buf, Level: slog.LevelWarn, File: path, MaxSizeMB: 1})
	logger.Info("dropped")
	logger.Warn("kept")

	require.Equal(t, 1, strings.Count(buf.String(), "\n"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"message":"kept"`)
	require.NotContains(t, string(raw), "dropped")
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("signer", "02aa").Value.String())
	require.Equal(t, "boom", MaskField("Error", "boom").Value.String())
	require.Equal(t, "", MaskField("signer", " ").Value.String())
	require.True(t, slices.IsSorted(safeKeys))
}

func TestKeyFingerprint(t *testing.T) {
	require.Equal(t, "0a0b0c0d..(6 bytes)", KeyFingerprint("signer", []byte{10, 11, 12, 13, 14, 15}).Value.String())
	require.Equal(t, "0a..(1 bytes)", KeyFingerprint("signer", []byte{10}).Value.String())
	require.Equal(t, "", KeyFingerprint("signer", nil).Value.String())
}
