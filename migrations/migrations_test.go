package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesOrder(t *testing.T) {
	up, err := Files("up")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_core.up.sql", "002_admin_wallet.up.sql"}, up)

	down, err := Files("down")
	require.NoError(t, err)
	assert.Equal(t, []string{"002_admin_wallet.down.sql", "001_core.down.sql"}, down)

	_, err = Files("sideways")
	require.Error(t, err)
}
