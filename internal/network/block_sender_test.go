package network

import (
	"testing"

	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockSender_Batching(t *testing.T) {
	sink := &MemorySink{}
	s := NewBlockSender(sink, "", 2)
	s.SetLevel("main")

	s.QueueUpdate(vec.Vec3{X: 1}, block.StoneBlockID, 0)
	s.Flush(false)
	assert.Empty(t, sink.Batches(), "Неполный пакет не должен отправляться без force")
	assert.Equal(t, 1, s.Pending())

	s.QueueUpdate(vec.Vec3{X: 2}, block.DirtBlockID, 0)
	s.Flush(false)
	require.Len(t, sink.Batches(), 1, "Полный пакет должен уйти")
	assert.Equal(t, "main", sink.Batches()[0].Level)
	assert.Len(t, sink.Batches()[0].Updates, 2)

	s.SetLevel("nether")
	s.QueueUpdate(vec.Vec3{X: 3}, block.CustomBlockID, 9)
	s.Flush(true)
	require.Len(t, sink.Batches(), 2)
	assert.Equal(t, "nether", sink.Batches()[1].Level)
	assert.Equal(t, block.BlockID(9), sink.Batches()[1].Updates[0].Ext)
	assert.Equal(t, 3, s.Sent())

	s.Flush(true)
	assert.Len(t, sink.Batches(), 2, "Пустой буфер не отправляется")
}
