package debuglog

import (
	"testing"

	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	f, err := parseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, logging.JSONOutput, f)

	f, err = parseFormat("")
	require.NoError(t, err)
	assert.Equal(t, logging.PlaintextOutput, f)

	_, err = parseFormat("xml")
	assert.Error(t, err)
}

func TestSetupRejectsBadLevel(t *testing.T) {
	t.Setenv(EnvDebug, "")
	assert.Error(t, Setup("loud", "text"))
}

func TestSetupDebugOverride(t *testing.T) {
	t.Setenv(EnvDebug, "1")
	// "loud" is invalid but the environment switch replaces it.
	require.NoError(t, Setup("loud", "text"))
	require.NoError(t, Setup("warn", "text"))
}
