package network

import (
	"sync"

	"github.com/annel0/blockundo/internal/logging"
	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world/block"
)

// BlockUpdate - одно визуальное обновление блока для клиентов
type BlockUpdate struct {
	Pos vec.Vec3      `json:"pos"`
	ID  block.BlockID `json:"id"`
	Ext block.BlockID `json:"ext,omitempty"`
}

// Sink доставляет пакет обновлений наблюдателям.
// target == "" означает рассылку всем игрокам уровня.
type Sink interface {
	SendBlocks(level, target string, updates []BlockUpdate)
}

// BlockSender накапливает обновления блоков и отправляет их пакетами,
// а не отдельным сообщением на каждый блок.
type BlockSender struct {
	mu       sync.Mutex
	sink     Sink
	target   string
	level    string
	buf      []BlockUpdate
	capacity int
	sent     int
}

// NewBlockSender создаёт отправитель. capacity - размер пакета, при котором
// Flush(false) действительно отправляет данные.
func NewBlockSender(sink Sink, target string, capacity int) *BlockSender {
	if capacity <= 0 {
		capacity = 256
	}
	return &BlockSender{
		sink:     sink,
		target:   target,
		capacity: capacity,
		buf:      make([]BlockUpdate, 0, capacity),
	}
}

// SetLevel меняет уровень, к которому относятся следующие обновления.
// Накопленное до этого нужно отправить через Flush(true).
func (s *BlockSender) SetLevel(name string) {
	s.mu.Lock()
	s.level = name
	s.mu.Unlock()
}

// QueueUpdate добавляет обновление в пакет
func (s *BlockSender) QueueUpdate(pos vec.Vec3, id, ext block.BlockID) {
	s.mu.Lock()
	s.buf = append(s.buf, BlockUpdate{Pos: pos, ID: id, Ext: ext})
	s.mu.Unlock()
}

// Flush отправляет пакет. Без force отправка происходит только при заполненном пакете.
func (s *BlockSender) Flush(force bool) {
	s.mu.Lock()
	if len(s.buf) == 0 || (!force && len(s.buf) < s.capacity) {
		s.mu.Unlock()
		return
	}
	updates := make([]BlockUpdate, len(s.buf))
	copy(updates, s.buf)
	s.buf = s.buf[:0]
	level := s.level
	s.sent += len(updates)
	s.mu.Unlock()

	s.sink.SendBlocks(level, s.target, updates)
}

// Pending возвращает число ещё не отправленных обновлений
func (s *BlockSender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Sent возвращает общее число отправленных обновлений
func (s *BlockSender) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Batch - один доставленный пакет
type Batch struct {
	Level   string
	Target  string
	Updates []BlockUpdate
}

// MemorySink запоминает доставленные пакеты
type MemorySink struct {
	mu      sync.Mutex
	batches []Batch
}

func (m *MemorySink) SendBlocks(level, target string, updates []BlockUpdate) {
	m.mu.Lock()
	m.batches = append(m.batches, Batch{Level: level, Target: target, Updates: updates})
	m.mu.Unlock()
}

// Batches возвращает копию списка пакетов
func (m *MemorySink) Batches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Batch, len(m.batches))
	copy(out, m.batches)
	return out
}

// Updates возвращает все обновления подряд
func (m *MemorySink) Updates() []BlockUpdate {
	var out []BlockUpdate
	for _, b := range m.Batches() {
		out = append(out, b.Updates...)
	}
	return out
}

// LogSink пишет пакеты в лог (используется утилитой администрирования)
type LogSink struct {
	Logger *logging.Logger
}

func (l LogSink) SendBlocks(level, target string, updates []BlockUpdate) {
	if target == "" {
		target = "*"
	}
	l.Logger.Info("📦 %d обновлений блоков: уровень=%s получатель=%s", len(updates), level, target)
	for _, u := range updates {
		l.Logger.Debug("  %s -> %d:%d", u.Pos, u.ID, u.Ext)
	}
}
