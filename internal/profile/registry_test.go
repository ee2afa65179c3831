package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfiles = `profiles:
  conservative:
    description: 保守配置，份數多、停利早
    strategy: farmerplanting
    version: 2
    params:
      num_positions: 12
      trailing_stop: 0.15
    schema:
      type: object
      properties:
        num_positions:
          type: integer
          minimum: 2
        trailing_stop:
          type: number
          exclusiveMinimum: 0
          exclusiveMaximum: 1
  aggressive:
    strategy: farmerplanting
    params:
      num_positions: 5
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_LoadAndResolve(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Templates, 2)

	tpl, ok := r.Template("conservative")
	require.True(t, ok)
	assert.Equal(t, 2, tpl.Version)
	assert.Equal(t, "farmerplanting", tpl.Strategy)

	// 未填 id 以名稱補上、版本補 1
	tpl, ok = r.Template("aggressive")
	require.True(t, ok)
	assert.Equal(t, "aggressive", tpl.ID)
	assert.Equal(t, 1, tpl.Version)

	overrides, err := r.Resolve("conservative")
	require.NoError(t, err)
	assert.Equal(t, 0.15, overrides["trailing_stop"])

	_, err = r.Resolve("nope")
	assert.Error(t, err)
}

func TestRegistry_SchemaRejectsBadParams(t *testing.T) {
	bad := `profiles:
  broken:
    strategy: farmerplanting
    params:
      trailing_stop: 1.5
    schema:
      type: object
      properties:
        trailing_stop:
          type: number
          exclusiveMaximum: 1
`
	r, err := NewRegistry(writeProfiles(t, bad))
	require.NoError(t, err, "載入不擋，Resolve 時才驗證")

	_, err = r.Resolve("broken")
	assert.Error(t, err)
}

func TestRegistry_ForStrategy(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	ids := r.ForStrategy("FarmerPlanting")
	assert.Equal(t, []string{"aggressive", "conservative"}, ids)
	assert.Empty(t, r.ForStrategy("other"))
}

func TestRegistry_RejectsUnknownFields(t *testing.T) {
	_, err := NewRegistry(writeProfiles(t, "profiles:\n  x:\n    stragety: typo\n"))
	assert.Error(t, err, "打錯的欄位名要被擋下")
}

func TestRegistry_RequiresPath(t *testing.T) {
	_, err := NewRegistry("  ")
	assert.Error(t, err)
	_, err = NewRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTemplate_ValidateWithoutSchema(t *testing.T) {
	tpl := Template{ID: "x"}
	assert.NoError(t, tpl.Validate(map[string]any{"anything": 1}))
}
