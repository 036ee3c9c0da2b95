package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_TextRoundTrip(t *testing.T) {
	id := NewIdentity()

	parsed, err := ParseIdentity(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	payload, err := json.Marshal(struct {
		ID Identity `json:"id"`
	}{ID: id})
	require.NoError(t, err)
	assert.Contains(t, string(payload), id.String())
}

func TestParseIdentity_Errors(t *testing.T) {
	_, err := ParseIdentity("not-hex")
	assert.Error(t, err)

	_, err = ParseIdentity("0x0102")
	assert.Error(t, err)
}

func TestIdentityFromLabel_Stable(t *testing.T) {
	assert.Equal(t, IdentityFromLabel("usdc"), IdentityFromLabel("usdc"))
	assert.NotEqual(t, IdentityFromLabel("usdc"), IdentityFromLabel("sol"))
	assert.False(t, IdentityFromLabel("usdc").IsZero())
	assert.True(t, Identity{}.IsZero())
}

func TestSchedule_Parse(t *testing.T) {
	for _, s := range Schedules() {
		parsed, err := ParseSchedule(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
		assert.NotEmpty(t, s.CronSpec())
	}

	_, err := ParseSchedule("hourly")
	assert.Error(t, err)
	assert.False(t, Schedule(99).Valid())
}

func TestSide_Parse(t *testing.T) {
	s, err := ParseSide("BUY")
	require.NoError(t, err)
	assert.Equal(t, SideBid, s)
	assert.Equal(t, SideAsk, s.Opposite())

	_, err = ParseSide("hold")
	assert.Error(t, err)

	assert.True(t, SideAsk.Valid())
	assert.False(t, Side(2).Valid())
}
