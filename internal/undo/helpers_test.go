package undo

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annel0/blockundo/internal/network"
	"github.com/annel0/blockundo/internal/undo/format"
	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world"
	"github.com/annel0/blockundo/internal/world/block"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func rec(mapName string, x, y, z int, from, to block.BlockID, at time.Time) format.Record {
	return format.Record{Map: mapName, Pos: vec.Vec3{X: x, Y: y, Z: z}, Type: from, NewType: to, Time: at}
}

type testEnv struct {
	root   string
	table  *block.Table
	codecs *format.Registry
	store  *Store
	levels *world.Levels
	main   *world.Level
	sink   *network.MemorySink
	engine *Engine
}

func newTestEnv(t *testing.T, rotateAt int, opts ...StoreOption) *testEnv {
	t.Helper()
	root := t.TempDir()
	table := block.DefaultTable()
	codecs := format.NewRegistry(table)
	store := NewStore(root, codecs, rotateAt, opts...)
	require.NoError(t, store.EnsureDirs())

	levels := world.NewLevels()
	main := world.NewLevel("main", 16, 16, 16, table)
	levels.Add(main)

	sink := &network.MemorySink{}
	senders := func(actor world.Actor) Sender {
		target := ""
		if actor != nil {
			target = actor.Name()
		}
		return network.NewBlockSender(sink, target, 4)
	}

	return &testEnv{
		root:   root,
		table:  table,
		codecs: codecs,
		store:  store,
		levels: levels,
		main:   main,
		sink:   sink,
		engine: NewEngine(store, table, LevelsFinder(levels), senders, nil),
	}
}

// writeFile кладёт файл журнала указанного кодека напрямую в каталог игрока
func (e *testEnv) writeFile(t *testing.T, gen Generation, player, name string, c format.Codec, records []format.Record) string {
	t.Helper()
	dir := e.store.PlayerDir(gen, player)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf, records))
	path := filepath.Join(dir, name+c.Ext())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func (e *testEnv) readAll(t *testing.T, gen Generation, player string) []format.Record {
	t.Helper()
	files, err := e.store.PlayerFiles(gen, player)
	require.NoError(t, err)
	var out []format.Record
	for _, f := range files {
		records, err := e.store.readFile(f.Path)
		require.NoError(t, err)
		out = append(out, records...)
	}
	return out
}
