package undo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/annel0/blockundo/internal/logging"
	"github.com/annel0/blockundo/internal/undo/format"
	"github.com/annel0/blockundo/internal/world"
)

// Service объединяет буферы игроков, хранилище и движок проигрывания.
// Буферы периодически сбрасываются на диск фоновым циклом.
type Service struct {
	store   *Store
	engine  *Engine
	metrics *Metrics
	log     *logging.Logger

	mu      sync.Mutex
	buffers map[string]*Buffer

	flushEvery time.Duration
	quit       chan struct{}
	done       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewService создаёт сервис. flushEvery <= 0 отключает фоновый сброс.
func NewService(store *Store, engine *Engine, metrics *Metrics, flushEvery time.Duration) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		store:      store,
		engine:     engine,
		metrics:    metrics,
		log:        logging.GetUndoLogger(),
		buffers:    make(map[string]*Buffer),
		flushEvery: flushEvery,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Store возвращает хранилище
func (s *Service) Store() *Store { return s.store }

// Engine возвращает движок проигрывания
func (s *Service) Engine() *Engine { return s.engine }

func (s *Service) buffer(player string, create bool) *Buffer {
	key := strings.ToLower(player)
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[key]
	if !ok && create {
		b = NewBuffer()
		s.buffers[key] = b
	}
	return b
}

// Append фиксирует изменение блока игроком. Только память, без ввода-вывода.
// Запись, которую нельзя сохранить на диск, не попадает в буфер.
func (s *Service) Append(player string, rec format.Record) error {
	if err := s.buffer(player, true).Append(rec); err != nil {
		s.metrics.rejected.Inc()
		s.log.Warn("⚠️ Запись игрока %s отклонена: %v", player, err)
		return err
	}
	s.metrics.appended.Inc()
	return nil
}

// Pending возвращает число несохранённых записей игрока
func (s *Service) Pending(player string) int {
	if b := s.buffer(player, false); b != nil {
		return b.Len()
	}
	return 0
}

// Flush сохраняет буфер игрока
func (s *Service) Flush(ctx context.Context, player string) (int, error) {
	b := s.buffer(player, false)
	if b == nil {
		return 0, nil
	}
	return b.Flush(ctx, s.store, strings.ToLower(player))
}

// FlushAll сохраняет буферы всех игроков. Ошибка одного игрока не мешает
// сохранению остальных.
func (s *Service) FlushAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	players := make([]string, 0, len(s.buffers))
	for p := range s.buffers {
		players = append(players, p)
	}
	s.mu.Unlock()
	sort.Strings(players)

	var (
		total int
		errs  []error
	)
	for _, p := range players {
		n, err := s.Flush(ctx, p)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return total, errors.Join(errs...)
}

// EndSession сохраняет буфер вышедшего игрока и освобождает его.
// При ошибке записи буфер остаётся и будет сохранён следующим сбросом.
func (s *Service) EndSession(ctx context.Context, player string) error {
	if _, err := s.Flush(ctx, player); err != nil {
		return err
	}
	key := strings.ToLower(player)
	s.mu.Lock()
	if b, ok := s.buffers[key]; ok && b.Len() == 0 {
		delete(s.buffers, key)
	}
	s.mu.Unlock()
	return nil
}

// flushBefore сохраняет записи, которые должна увидеть операция над scope
func (s *Service) flushBefore(ctx context.Context, scope Scope) error {
	if scope.ServerWide() {
		_, err := s.FlushAll(ctx)
		return err
	}
	_, err := s.Flush(ctx, scope.Player)
	return err
}

// Undo сохраняет буферы области и откатывает её изменения
func (s *Service) Undo(ctx context.Context, actor world.Actor, scope Scope, args Args) (Result, error) {
	if err := s.flushBefore(ctx, scope); err != nil {
		s.log.Warn("⚠️ Сброс перед откатом не удался: %v", err)
	}
	return s.engine.Undo(ctx, actor, scope, args)
}

// Highlight сохраняет буферы области и подсвечивает её изменения
func (s *Service) Highlight(ctx context.Context, actor world.Actor, scope Scope, args Args) (Result, error) {
	if err := s.flushBefore(ctx, scope); err != nil {
		s.log.Warn("⚠️ Сброс перед подсветкой не удался: %v", err)
	}
	return s.engine.Highlight(ctx, actor, scope, args)
}

// Upgrade переводит файлы игрока в текущий формат
func (s *Service) Upgrade(ctx context.Context, player string) (UpgradeResult, error) {
	if _, err := s.Flush(ctx, player); err != nil {
		return UpgradeResult{}, err
	}
	return s.store.Upgrade(ctx, player)
}

// EnforceRetention выполняет ротацию при превышении limit каталогов игроков
func (s *Service) EnforceRetention(limit int) (bool, error) {
	return s.store.EnforceRetention(limit)
}

// Start запускает фоновый сброс буферов
func (s *Service) Start() {
	s.startOnce.Do(func() {
		if s.flushEvery <= 0 {
			close(s.done)
			return
		}
		go s.loop()
	})
}

func (s *Service) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.FlushAll(context.Background()); err != nil {
				s.log.Warn("⚠️ Периодический сброс: %v", err)
			} else if n > 0 {
				s.log.Debug("💾 Периодический сброс: %d записей", n)
			}
		case <-s.quit:
			return
		}
	}
}

// Stop останавливает фоновый цикл и сохраняет оставшиеся записи
func (s *Service) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.Start()
		close(s.quit)
		<-s.done
		_, err = s.FlushAll(ctx)
	})
	return err
}
