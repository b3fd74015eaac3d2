package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTOML = `
log_level = "debug"

[global]
max_el_lag_blocks = 10
max_retries = 1

[[el.primary]]
name = "geth-1"
http_url = "http://geth1:8545"
ws_url = "ws://geth1:8546"

[[el.backup]]
name = "geth-2"
http_url = "http://geth2:8545"

[[cl]]
name = "lighthouse-1"
url = "http://lighthouse1:5052"
`

func TestParse_ValidConfigAppliesOverridesAndDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validTOML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.EqualValues(t, 10, cfg.Global.MaxELLagBlocks)
	assert.EqualValues(t, 1, cfg.Global.MaxRetries)
	assert.EqualValues(t, 3, cfg.Global.MaxCLLagSlots, "unset field keeps its default")

	require.Len(t, cfg.El.Primary, 1)
	assert.Equal(t, "geth-1", cfg.El.Primary[0].Name)
	assert.Equal(t, "ws://geth1:8546", cfg.El.Primary[0].WSURL)

	require.Len(t, cfg.Cl, 1)
	assert.Equal(t, "lighthouse-1", cfg.Cl[0].Name)
}

func TestParse_MissingPrimaryElRejected(t *testing.T) {
	const toml = `
[[cl]]
name = "lighthouse-1"
url = "http://lighthouse1:5052"
`
	_, err := Parse([]byte(toml))
	assert.Error(t, err)
}

func TestParse_MissingClRejected(t *testing.T) {
	const toml = `
[[el.primary]]
name = "geth-1"
http_url = "http://geth1:8545"
`
	_, err := Parse([]byte(toml))
	assert.Error(t, err)
}

func TestParse_InvalidURLSchemeRejected(t *testing.T) {
	const toml = `
[[el.primary]]
name = "geth-1"
http_url = "ftp://geth1:8545"

[[cl]]
name = "lighthouse-1"
url = "http://lighthouse1:5052"
`
	_, err := Parse([]byte(toml))
	assert.Error(t, err)
}

func TestParse_RelativeURLRejected(t *testing.T) {
	const toml = `
[[el.primary]]
name = "geth-1"
http_url = "geth1:8545"

[[cl]]
name = "lighthouse-1"
url = "http://lighthouse1:5052"
`
	_, err := Parse([]byte(toml))
	assert.Error(t, err)
}

func TestParse_MalformedTOMLRejected(t *testing.T) {
	_, err := Parse([]byte("this is not [ valid toml"))
	assert.Error(t, err)
}

func TestTopology_PreservesDeclarationOrderPrimaryBeforeBackupBeforeCL(t *testing.T) {
	cfg, err := Parse([]byte(validTOML))
	require.NoError(t, err)

	ups := cfg.Topology()
	require.Len(t, ups, 3)
	assert.Equal(t, "geth-1", ups[0].Name)
	assert.Equal(t, "geth-2", ups[1].Name)
	assert.Equal(t, "lighthouse-1", ups[2].Name)
}
