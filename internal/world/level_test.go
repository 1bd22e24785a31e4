package world

import (
	"testing"

	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_TileAccess(t *testing.T) {
	lvl := NewLevel("main", 8, 8, 8, block.DefaultTable())

	lvl.SetTile(1, 2, 3, block.StoneBlockID)
	assert.Equal(t, block.StoneBlockID, lvl.GetTile(1, 2, 3))
	assert.Equal(t, block.AirBlockID, lvl.GetTile(0, 0, 0))
	assert.Equal(t, InvalidBlockID, lvl.GetTile(8, 0, 0), "За пределами уровня должен быть InvalidBlockID")

	lvl.SetTile(2, 2, 2, block.CustomBlockID)
	lvl.SetExtTile(2, 2, 2, 42)
	assert.Equal(t, block.BlockID(42), lvl.GetExtTile(2, 2, 2))

	// Обычный блок сбрасывает расширенный ID
	lvl.SetTile(2, 2, 2, block.DirtBlockID)
	assert.Equal(t, block.BlockID(0), lvl.GetExtTile(2, 2, 2))
}

func TestLevel_PlaceBlockPermissions(t *testing.T) {
	lvl := NewLevel("main", 4, 4, 4, block.DefaultTable())
	lvl.SetTile(0, 0, 0, block.BedrockBlockID)

	guest := NewPlayer("guest", block.BedrockBlockID)
	assert.False(t, lvl.PlaceBlock(guest, 0, 0, 0, block.AirBlockID, 0), "Гостю нельзя ломать бедрок")
	assert.Equal(t, block.BedrockBlockID, lvl.GetTile(0, 0, 0))

	assert.True(t, lvl.PlaceBlock(guest, 1, 0, 0, block.CustomBlockID, 7))
	assert.Equal(t, block.BlockID(7), lvl.GetExtTile(1, 0, 0))

	assert.False(t, lvl.PlaceBlock(nil, 1, 1, 1, block.StoneBlockID, 0), "Без актора установка запрещена")
	assert.False(t, lvl.PlaceBlock(guest, 1, 1, 1, block.BlockID(200), 0), "Неизвестный блок недопустим")
}

func TestLevel_SnapshotRestore(t *testing.T) {
	lvl := NewLevel("main", 4, 4, 4, block.DefaultTable())
	lvl.Fill(vec.NewBox(vec.Vec3{}, vec.Vec3{X: 3, Y: 0, Z: 3}), block.GrassBlockID)

	tiles, ext := lvl.Snapshot()
	lvl.SetTile(0, 0, 0, block.StoneBlockID)

	require.True(t, lvl.Restore(tiles, ext))
	assert.Equal(t, block.GrassBlockID, lvl.GetTile(0, 0, 0))
	assert.False(t, lvl.Restore(tiles[:3], ext), "Неверная длина должна отклоняться")
}

func TestLevels_FindCaseInsensitive(t *testing.T) {
	levels := NewLevels()
	levels.Add(NewLevel("Spawn", 2, 2, 2, block.DefaultTable()))

	lvl, ok := levels.FindLevelByName("spawn")
	require.True(t, ok)
	assert.Equal(t, "Spawn", lvl.Name())

	_, ok = levels.FindLevelByName("nether")
	assert.False(t, ok)
}
