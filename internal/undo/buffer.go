package undo

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/blockundo/internal/undo/format"
)

// Buffer - журнал изменений одного игрока в памяти, в порядке добавления.
//
// Сброс на диск подменяет внутренний срез новым пустым под коротко удерживаемой
// блокировкой и сохраняет отсоединённые записи уже без неё, поэтому запись,
// добавленная во время сохранения, попадает в следующий сброс. Сбросы одного
// буфера выполняются по очереди: иначе возврат записей после неудачного сброса
// мог бы поставить их после записей параллельного сброса.
type Buffer struct {
	flushMu sync.Mutex
	mu      sync.Mutex
	records []format.Record
}

// NewBuffer создаёт пустой буфер
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append добавляет запись. Не выполняет ввода-вывода.
// Время округляется до секунды в UTC, как его хранят файлы журнала. Запись,
// которую нельзя сохранить (format.Record.Validate), отклоняется.
func (b *Buffer) Append(r format.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.Time = r.Time.Truncate(time.Second).UTC()

	b.mu.Lock()
	b.records = append(b.records, r)
	b.mu.Unlock()
	return nil
}

// Len возвращает число несохранённых записей
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Snapshot возвращает копию содержимого без очистки
func (b *Buffer) Snapshot() []format.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]format.Record, len(b.records))
	copy(out, b.records)
	return out
}

// detach забирает все записи, оставляя буфер пустым
func (b *Buffer) detach() []format.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.records
	b.records = nil
	return out
}

// restore возвращает несохранённые записи в начало буфера
func (b *Buffer) restore(records []format.Record) {
	b.mu.Lock()
	b.records = append(records, b.records...)
	b.mu.Unlock()
}

// Flush сохраняет содержимое буфера в текущее поколение хранилища и очищает его.
// Пустой буфер ничего не пишет. При ошибке записи записи возвращаются в буфер.
func (b *Buffer) Flush(ctx context.Context, store *Store, player string) (int, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	records := b.detach()
	if len(records) == 0 {
		return 0, nil
	}

	if _, err := store.Persist(ctx, player, records); err != nil {
		b.restore(records)
		return 0, err
	}
	return len(records), nil
}
