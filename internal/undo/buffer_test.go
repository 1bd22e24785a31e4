package undo

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockundo/internal/undo/format"
	"github.com/annel0/blockundo/internal/world/block"
)

func TestBuffer_FlushEmptyWritesNothing(t *testing.T) {
	env := newTestEnv(t, 0)
	b := NewBuffer()

	n, err := b.Flush(context.Background(), env.store, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, env.store.HasPlayer("alice"))
}

func TestBuffer_FlushRoundTrip(t *testing.T) {
	env := newTestEnv(t, 0)
	b := NewBuffer()

	want := []format.Record{
		rec("main", 1, 2, 3, block.StoneBlockID, block.AirBlockID, t0),
		rec("main", 1, 2, 4, block.AirBlockID, block.GlassBlockID, t0.Add(time.Second)),
	}
	for _, r := range want {
		b.Append(r)
	}
	assert.Equal(t, want, b.Snapshot())

	n, err := b.Flush(context.Background(), env.store, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, b.Len(), "после сброса буфер пуст")

	assert.Equal(t, want, env.readAll(t, Current, "alice"))
}

func TestBuffer_FlushFailureKeepsRecords(t *testing.T) {
	env := newTestEnv(t, 0)
	b := NewBuffer()
	b.Append(rec("main", 1, 1, 1, block.AirBlockID, block.StoneBlockID, t0))

	// На месте каталога игрока лежит файл - запись невозможна
	require.NoError(t, writeBlocker(env.store.PlayerDir(Current, "alice")))

	_, err := b.Flush(context.Background(), env.store, "alice")
	require.Error(t, err)

	b.Append(rec("main", 2, 2, 2, block.AirBlockID, block.StoneBlockID, t0))
	got := b.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Pos.X, "несохранённые записи возвращаются в начало")
	assert.Equal(t, 2, got[1].Pos.X)
}

func TestBuffer_ConcurrentAppendAndFlushLosesNothing(t *testing.T) {
	env := newTestEnv(t, 0)
	b := NewBuffer()
	ctx := context.Background()

	const writers, perWriter = 4, 500
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(rec("main", w, i%256, i/256, block.AirBlockID, block.StoneBlockID, t0))
			}
		}(w)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	flushed := 0
	go func() {
		defer close(done)
		for {
			n, err := b.Flush(ctx, env.store, "alice")
			assert.NoError(t, err)
			flushed += n
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-done
	n, err := b.Flush(ctx, env.store, "alice")
	require.NoError(t, err)
	flushed += n

	assert.Equal(t, writers*perWriter, flushed)
	assert.Len(t, env.readAll(t, Current, "alice"), writers*perWriter)
}

func TestBuffer_AppendRejectsUnstorableRecords(t *testing.T) {
	b := NewBuffer()
	bad := []format.Record{
		rec("main", -1, 0, 0, block.AirBlockID, block.StoneBlockID, t0),
		rec("main", 0, format.MaxCoord+1, 0, block.AirBlockID, block.StoneBlockID, t0),
		rec("", 0, 0, 0, block.AirBlockID, block.StoneBlockID, t0),
	}
	assert.ErrorIs(t, b.Append(bad[0]), format.ErrCoordOutOfRange)
	assert.ErrorIs(t, b.Append(bad[1]), format.ErrCoordOutOfRange)
	assert.ErrorIs(t, b.Append(bad[2]), format.ErrBadMapName)
	assert.Zero(t, b.Len())

	require.NoError(t, b.Append(rec("main", format.MaxCoord, 0, 0, block.AirBlockID, block.StoneBlockID, t0)))
	assert.Equal(t, 1, b.Len())
}

func TestBuffer_AppendTruncatesTimeToStoredPrecision(t *testing.T) {
	env := newTestEnv(t, 0)
	b := NewBuffer()
	at := time.Date(2024, 5, 1, 12, 30, 15, 987654321, time.FixedZone("MSK", 3*3600))
	require.NoError(t, b.Append(rec("main", 1, 1, 1, block.AirBlockID, block.StoneBlockID, at)))

	pending := b.Snapshot()
	require.Len(t, pending, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC), pending[0].Time)

	_, err := b.Flush(context.Background(), env.store, "alice")
	require.NoError(t, err)
	assert.Equal(t, pending, env.readAll(t, Current, "alice"), "буфер и диск видят одно и то же время")
}

func TestBuffer_FlushesRunOneAtATime(t *testing.T) {
	env := newTestEnv(t, 0)
	b := NewBuffer()
	require.NoError(t, b.Append(rec("main", 1, 1, 1, block.AirBlockID, block.StoneBlockID, t0)))

	// Идёт другой сброс этого буфера
	b.flushMu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := b.Flush(context.Background(), env.store, "alice")
		done <- err
	}()

	assert.Never(t, func() bool { return env.store.HasPlayer("alice") }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, b.Len(), "записи не забраны, пока не закончен предыдущий сброс")

	b.flushMu.Unlock()
	require.NoError(t, <-done)
	assert.Zero(t, b.Len())
	assert.Len(t, env.readAll(t, Current, "alice"), 1)
}

func writeBlocker(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("x"), 0o644)
}
