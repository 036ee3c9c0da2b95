package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/yieldcron/config"
	"github.com/vadiminshakov/yieldcron/internal/domain"
)

func TestBuildConfig_Defaults(t *testing.T) {
	tmp, err := buildConfig(defaults())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, write(path, tmp))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Deposits, 1)
	assert.Equal(t, domain.IdentityFromLabel("owner"), cfg.Deposits[0].Owner)
	assert.Equal(t, uint64(1_000_000), cfg.Deposits[0].Principal)
	assert.Equal(t, domain.ScheduleWeekly, cfg.Deposits[0].Schedule)
	assert.Equal(t, cfg.Reserves[0].LiquidityMint, cfg.Markets[0].QuoteMint)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestBuildConfig_RejectsBadNumbers(t *testing.T) {
	a := defaults()
	a.principal = "lots"
	_, err := buildConfig(a)
	require.Error(t, err)

	a = defaults()
	a.feeBps = "10000"
	_, err = buildConfig(a)
	require.Error(t, err)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePercent("0.5"))
	assert.Error(t, validatePercent("101"))
	assert.Error(t, validatePercent("x"))

	assert.NoError(t, validatePositive("1"))
	assert.Error(t, validatePositive("0"))

	assert.NoError(t, validateUint("0"))
	assert.Error(t, validateUint("-1"))

	assert.NoError(t, validateIdentity("alice"))
	assert.Error(t, validateIdentity(""))
	assert.Error(t, validateIdentity("0x12"))
}
