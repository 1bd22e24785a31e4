package undo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockundo/internal/undo/format"
	"github.com/annel0/blockundo/internal/world/block"
)

func TestUpgrade_MergesLegacyFilesInOrder(t *testing.T) {
	env := newTestEnv(t, 0)
	text := []format.Record{
		rec("main", 0, 0, 0, block.AirBlockID, block.StoneBlockID, t0),
		rec("main", 1, 0, 0, block.AirBlockID, block.DirtBlockID, t0.Add(time.Second)),
	}
	bin := []format.Record{
		rec("main", 2, 0, 0, block.StoneBlockID, block.AirBlockID, t0.Add(2*time.Second)),
		rec("nether", 3, 0, 0, block.AirBlockID, block.GlassBlockID, t0.Add(3*time.Second)),
		rec("nether", 4, 0, 0, block.AirBlockID, block.SandBlockID, t0.Add(4*time.Second)),
	}
	textPath := env.writeFile(t, Current, "alice", "0", env.codecs.Text(), text)
	binPath := env.writeFile(t, Current, "alice", "1", env.codecs.Bin(), bin)

	res, err := env.store.Upgrade(context.Background(), "Alice")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 5, res.Records)

	assert.NoFileExists(t, textPath)
	assert.NoFileExists(t, binPath)

	files, err := env.store.PlayerFiles(Current, "alice")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "0.uncbin", filepath.Base(files[0].Path), "номер самого старого исходного файла")

	got := env.readAll(t, Current, "alice")
	assert.Equal(t, append(text, bin...), got, "общий хронологический порядок сохраняется")
}

func TestUpgrade_BothGenerationsAndCurrentFilesUntouched(t *testing.T) {
	env := newTestEnv(t, 0)
	env.writeFile(t, Previous, "bob", "0", env.codecs.Text(), []format.Record{
		rec("main", 0, 0, 0, block.AirBlockID, block.StoneBlockID, t0),
	})
	cbin := env.writeFile(t, Current, "bob", "0", env.codecs.Current(), []format.Record{
		rec("main", 1, 0, 0, block.AirBlockID, block.StoneBlockID, t0.Add(time.Second)),
	})

	res, err := env.store.Upgrade(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.Records)
	assert.FileExists(t, cbin)

	prev, err := env.store.PlayerFiles(Previous, "bob")
	require.NoError(t, err)
	require.Len(t, prev, 1)
	assert.Equal(t, "0.uncbin", filepath.Base(prev[0].Path))
}

func TestUpgrade_MergedFileStaysBeforeNewerCurrentFiles(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	env.writeFile(t, Current, "alice", "0", env.codecs.Text(), []format.Record{
		rec("main", 1, 1, 1, block.AirBlockID, block.StoneBlockID, t0),
	})
	env.writeFile(t, Current, "alice", "1", env.codecs.Current(), []format.Record{
		rec("main", 1, 1, 1, block.StoneBlockID, block.DirtBlockID, t0.Add(time.Minute)),
	})
	env.main.SetTile(1, 1, 1, block.DirtBlockID)

	res, err := env.store.Upgrade(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)

	files, err := env.store.PlayerFiles(Current, "alice")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "0.uncbin", filepath.Base(files[0].Path))
	assert.Equal(t, "1.uncbin", filepath.Base(files[1].Path))

	got := env.readAll(t, Current, "alice")
	require.Len(t, got, 2)
	assert.True(t, got[0].Time.Before(got[1].Time), "номера файлов идут в хронологическом порядке")

	undone, err := env.engine.Undo(ctx, nil, PlayerScope("alice"), Args{})
	require.NoError(t, err)
	assert.Equal(t, 2, undone.Applied)
	assert.Zero(t, undone.Skipped)
	assert.Equal(t, block.AirBlockID, env.main.GetTile(1, 1, 1), "полный откат возвращает исходный блок")

	ref, err := env.store.Persist(ctx, "alice", []format.Record{
		rec("main", 2, 2, 2, block.AirBlockID, block.StoneBlockID, t0.Add(2*time.Minute)),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ref.Index)
}

func TestUpgrade_InterleavedLegacyRunsKeepOrder(t *testing.T) {
	env := newTestEnv(t, 0)
	a := rec("main", 0, 0, 0, block.AirBlockID, block.StoneBlockID, t0)
	b := rec("main", 1, 0, 0, block.AirBlockID, block.StoneBlockID, t0.Add(time.Second))
	c := rec("main", 2, 0, 0, block.AirBlockID, block.StoneBlockID, t0.Add(2*time.Second))
	env.writeFile(t, Current, "dave", "0", env.codecs.Text(), []format.Record{a})
	env.writeFile(t, Current, "dave", "1", env.codecs.Current(), []format.Record{b})
	env.writeFile(t, Current, "dave", "2", env.codecs.Bin(), []format.Record{c})

	res, err := env.store.Upgrade(context.Background(), "dave")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 2, res.Records)

	files, err := env.store.PlayerFiles(Current, "dave")
	require.NoError(t, err)
	require.Len(t, files, 3)
	for i, f := range files {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, ".uncbin", filepath.Ext(f.Path))
	}
	assert.Equal(t, []format.Record{a, b, c}, env.readAll(t, Current, "dave"))
}

func TestUpgrade_FinishesInterruptedMigration(t *testing.T) {
	env := newTestEnv(t, 0)
	merged := []format.Record{rec("main", 0, 0, 0, block.AirBlockID, block.StoneBlockID, t0)}
	legacy := env.writeFile(t, Current, "erin", "0", env.codecs.Text(), merged)
	done := env.writeFile(t, Current, "erin", "0", env.codecs.Current(), merged)

	res, err := env.store.Upgrade(context.Background(), "erin")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.NoFileExists(t, legacy)
	assert.FileExists(t, done)
	assert.Equal(t, merged, env.readAll(t, Current, "erin"), "записи не дублируются")
}

func TestUpgrade_NothingToDo(t *testing.T) {
	env := newTestEnv(t, 0)
	res, err := env.store.Upgrade(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Zero(t, res.Records)
}

func TestUpgrade_CorruptLegacyFileKeepsIntactPrefix(t *testing.T) {
	env := newTestEnv(t, 0)
	path := env.writeFile(t, Current, "carol", "0", env.codecs.Bin(), []format.Record{
		rec("main", 0, 0, 0, block.AirBlockID, block.StoneBlockID, t0),
		rec("main", 1, 0, 0, block.AirBlockID, block.StoneBlockID, t0.Add(time.Second)),
	})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	res, err := env.store.Upgrade(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.NoFileExists(t, path)

	got := env.readAll(t, Current, "carol")
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Pos.X)
}
