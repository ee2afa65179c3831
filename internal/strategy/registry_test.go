package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("FarmerPlanting", func() Strategy { return NewFarmerPlanting() }))

	// 查詢不分大小寫
	f, ok := r.Get("farmerplanting")
	assert.True(t, ok)
	assert.NotNil(t, f)
	_, ok = r.Get("FARMERPLANTING")
	assert.True(t, ok)

	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_RejectsDuplicatesAndEmpty(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", func() Strategy { return NewFarmerPlanting() }))
	assert.Error(t, r.Register("a", func() Strategy { return NewFarmerPlanting() }))
	assert.Error(t, r.Register("", func() Strategy { return NewFarmerPlanting() }))
	assert.Error(t, r.Register("b", nil))
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("zeta", func() Strategy { return NewFarmerPlanting() }))
	require.NoError(t, r.Register("alpha", func() Strategy { return NewFarmerPlanting() }))

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Key)
	assert.Equal(t, "zeta", infos[1].Key)
	assert.NotEmpty(t, infos[0].Name)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	_, ok := r.Get("farmerplanting")
	assert.True(t, ok)
}

func TestSchema_Merge(t *testing.T) {
	schema := Schema{
		"alpha": {Type: "float", Default: 1.5},
		"beta":  {Type: "int", Default: 10},
	}

	merged, err := schema.Merge(nil)
	require.NoError(t, err)
	assert.Equal(t, 1.5, merged["alpha"])
	assert.Equal(t, 10, merged["beta"])

	merged, err = schema.Merge(map[string]any{"alpha": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, merged["alpha"])
	assert.Equal(t, 10, merged["beta"])

	_, err = schema.Merge(map[string]any{"gamma": 1})
	assert.Error(t, err, "未知參數必須拒絕")
}

func TestParamHelpers(t *testing.T) {
	cfg := map[string]any{
		"f": 1.5, "i": 7, "i64": int64(9), "fi": 3.0, "b": true,
	}
	assert.Equal(t, 1.5, Float(cfg, "f", 0))
	assert.Equal(t, 7.0, Float(cfg, "i", 0))
	assert.Equal(t, 9.0, Float(cfg, "i64", 0))
	assert.Equal(t, 0.5, Float(cfg, "missing", 0.5))
	assert.Equal(t, 3, Int(cfg, "fi", 0))
	assert.Equal(t, 4, Int(cfg, "missing", 4))
	assert.True(t, Bool(cfg, "b", false))
	assert.True(t, Bool(cfg, "missing", true))
}
