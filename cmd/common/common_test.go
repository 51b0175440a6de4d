package common

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("RISKGATE_TEST_ONLY=from-file\n"), 0o600))
	t.Setenv("RISKGATE_TEST_ONLY", "")
	require.NoError(t, os.Unsetenv("RISKGATE_TEST_ONLY"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("RISKGATE_TEST_ONLY"))

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}

func TestLoadEnvFile_DoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RISKGATE_TEST_KEEP=from-file\n"), 0o600))
	t.Setenv("RISKGATE_TEST_KEEP", "from-env")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-env", os.Getenv("RISKGATE_TEST_KEEP"))
}

func TestTables(t *testing.T) {
	var buf bytes.Buffer
	KeyValueTable(&buf, "KILL SWITCH", [][2]interface{}{{"Engaged", true}, {"Reason", "drill"}})
	assert.Contains(t, buf.String(), "KILL SWITCH")
	assert.Contains(t, buf.String(), "drill")

	buf.Reset()
	Table(&buf, "", []interface{}{"Symbol", "Reserved"}, [][]interface{}{{"BTCUSDT", 4}})
	assert.Contains(t, buf.String(), "BTCUSDT")
	assert.Contains(t, buf.String(), "RESERVED")
}

func TestRegisterCommonFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterCommonFlags(fs)

	require.NoError(t, fs.Parse([]string{"-config", "gate.yaml", "-version"}))
	assert.Equal(t, "gate.yaml", *flags.Config)
	assert.Equal(t, ".env", *flags.EnvFile)
	assert.True(t, *flags.Version)

	var buf bytes.Buffer
	PrintVersion(&buf, "riskctl")
	assert.Contains(t, buf.String(), "riskctl v"+ProjectVersion)
}
