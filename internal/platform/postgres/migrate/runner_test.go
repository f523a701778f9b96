package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinship/internal/platform/postgres"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", Up)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is not set")
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []Direction{"", "sideways", "UP"} {
		err := Run("postgres://localhost/kinship", direction)
		require.Error(t, err, "direction %q", direction)
		assert.Contains(t, err.Error(), "direction must be up or down")
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(postgres.MigrationFS, "migrations")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}
