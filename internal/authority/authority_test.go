package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/yieldcron/internal/domain"
)

func TestDerive_Deterministic(t *testing.T) {
	owner := domain.IdentityFromLabel("owner")
	reserve := domain.IdentityFromLabel("reserve")

	a := Derive(owner, reserve, 7)
	b := Derive(owner, reserve, 7)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Derive(owner, reserve, 8))
	assert.NotEqual(t, a, Derive(reserve, owner, 7))
	assert.NotEqual(t, a, Derive(domain.IdentityFromLabel("other"), reserve, 7))
}

func TestIssue(t *testing.T) {
	seeds := Seeds{
		Owner:    domain.IdentityFromLabel("owner"),
		Resource: domain.IdentityFromLabel("reserve"),
		Nonce:    1,
	}

	t.Run("matching derivation", func(t *testing.T) {
		c, err := Issue(seeds, seeds.Address())
		require.NoError(t, err)
		assert.Equal(t, seeds.Address(), c.Identity())
		assert.NoError(t, Verify(c))
	})

	t.Run("caller supplied identity is rejected", func(t *testing.T) {
		_, err := Issue(seeds, domain.IdentityFromLabel("attacker"))
		assert.ErrorIs(t, err, domain.ErrInvalidDerivedAuthority)
	})

	t.Run("zero identity is rejected", func(t *testing.T) {
		_, err := Issue(seeds, domain.Identity{})
		assert.ErrorIs(t, err, domain.ErrInvalidDerivedAuthority)
	})
}

func TestVerify_ZeroCapability(t *testing.T) {
	assert.ErrorIs(t, Verify(Capability{}), domain.ErrInvalidDerivedAuthority)
}

func TestForSeeds(t *testing.T) {
	seeds := Seeds{Owner: domain.IdentityFromLabel("venue"), Resource: domain.IdentityFromLabel("market")}
	c := ForSeeds(seeds)
	assert.Equal(t, seeds.Address(), c.Identity())
	assert.NoError(t, Verify(c))
}
