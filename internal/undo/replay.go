package undo

import (
	"context"
	"errors"
	"iter"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/annel0/blockundo/internal/logging"
	"github.com/annel0/blockundo/internal/undo/format"
	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world"
	"github.com/annel0/blockundo/internal/world/block"
)

// ErrNoActor - подсветка без игрока-получателя невозможна
var ErrNoActor = errors.New("undo: highlight requires an actor")

// Level - живой уровень, с которым работает откат
type Level interface {
	Name() string
	GetTile(x, y, z int) block.BlockID
	GetExtTile(x, y, z int) block.BlockID
	SetTile(x, y, z int, id block.BlockID)
	SetExtTile(x, y, z int, ext block.BlockID)
	// PlaceBlock - установка с проверкой прав и физики
	PlaceBlock(actor world.Actor, x, y, z int, id, ext block.BlockID) bool
}

// Blocks - классификация блоков
type Blocks interface {
	IsVolatile(id block.BlockID) bool
	IsLiquid(id block.BlockID) bool
	IsCustom(id block.BlockID) bool
}

// Sender - пакетная отправка обновлений блоков клиентам
type Sender interface {
	SetLevel(name string)
	QueueUpdate(pos vec.Vec3, id, ext block.BlockID)
	Flush(force bool)
}

// LevelFinder ищет уровень по имени
type LevelFinder func(name string) (Level, bool)

// SenderFactory создаёт отправитель для операции. actor == nil означает
// рассылку всем игрокам уровня.
type SenderFactory func(actor world.Actor) Sender

// LevelsFinder адаптирует реестр уровней к LevelFinder
func LevelsFinder(levels *world.Levels) LevelFinder {
	return func(name string) (Level, bool) {
		lvl, ok := levels.FindLevelByName(name)
		if !ok {
			return nil, false
		}
		return lvl, true
	}
}

// Scope - чьи изменения просматриваются
type Scope struct {
	// Player - имя игрока; пустая строка - все игроки сервера
	Player string
}

// PlayerScope - изменения одного игрока
func PlayerScope(name string) Scope { return Scope{Player: strings.ToLower(name)} }

// ServerScope - изменения всех игроков
func ServerScope() Scope { return Scope{} }

// ServerWide сообщает, что область охватывает весь сервер
func (s Scope) ServerWide() bool { return s.Player == "" }

// Args ограничивает просмотр журнала
type Args struct {
	// Since - записи старше не рассматриваются (нулевое значение - без ограничения)
	Since time.Time
	// Until - записи новее пропускаются (нулевое значение - без ограничения)
	Until time.Time
	// Region - если задан, учитываются только записи внутри области
	Region *vec.Box
	// Stop - флаг досрочной остановки, проверяется после каждой записи
	Stop *atomic.Bool
}

func (a *Args) stopped(ctx context.Context) bool {
	return (a.Stop != nil && a.Stop.Load()) || ctx.Err() != nil
}

// Result - итог отката или подсветки
type Result struct {
	Found   bool // у области есть файлы журнала
	Files   int  // сколько файлов кандидатов найдено
	Records int  // сколько записей рассмотрено
	Applied int  // сколько записей применено (откат) или отмечено (подсветка)
	Skipped int  // сколько записей пропущено из-за конфликта или отсутствия уровня
}

// Engine находит файлы журнала и проигрывает их записи от новых к старым
type Engine struct {
	store     *Store
	blocks    Blocks
	findLevel LevelFinder
	senders   SenderFactory
	metrics   *Metrics
	log       *logging.Logger
}

// NewEngine создаёт движок проигрывания
func NewEngine(store *Store, blocks Blocks, findLevel LevelFinder, senders SenderFactory, metrics *Metrics) *Engine {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		store:     store,
		blocks:    blocks,
		findLevel: findLevel,
		senders:   senders,
		metrics:   metrics,
		log:       logging.GetReplayLogger(),
	}
}

// LocateCandidates возвращает файлы области от новых к старым: сначала
// текущее поколение, затем предыдущее. Для всего сервера файлы внутри
// поколения упорядочены по времени изменения.
func (e *Engine) LocateCandidates(scope Scope) ([]FileRef, error) {
	var out []FileRef
	for _, gen := range []Generation{Current, Previous} {
		var files []FileRef
		if !scope.ServerWide() {
			f, err := e.store.PlayerFiles(gen, scope.Player)
			if err != nil {
				return nil, err
			}
			files = f
			reverse(files)
		} else {
			players, err := e.store.Players(gen)
			if err != nil {
				return nil, err
			}
			for _, p := range players {
				f, err := e.store.PlayerFiles(gen, p)
				if err != nil {
					return nil, err
				}
				files = append(files, f...)
			}
			sort.SliceStable(files, func(i, j int) bool {
				if !files[i].ModTime.Equal(files[j].ModTime) {
					return files[i].ModTime.After(files[j].ModTime)
				}
				if files[i].Player != files[j].Player {
					return files[i].Player < files[j].Player
				}
				return files[i].Index > files[j].Index
			})
		}
		out = append(out, files...)
	}
	return out, nil
}

func reverse(files []FileRef) {
	for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
		files[i], files[j] = files[j], files[i]
	}
}

// Enumerate выдаёт записи файлов от новых к старым. Ленив обход файлов, а не
// записей: каждый файл открывается, только когда до него дошла очередь, и
// декодируется целиком (форматы читаются только вперёд, а записи выдаются с
// конца), поэтому память ограничена размером одного файла. После остановки
// потребителем, флагом Stop, отменой ctx или выходом за Since следующие файлы
// не открываются. Повреждённый файл прерывает только собственное чтение.
//
// Если все файлы принадлежат одному игроку, первая запись старше Since
// завершает весь обход: более старые файлы содержат только более старые записи.
func (e *Engine) Enumerate(ctx context.Context, files []FileRef, args Args) iter.Seq[*format.Record] {
	singlePlayer := true
	for i := 1; i < len(files); i++ {
		if files[i].Player != files[0].Player {
			singlePlayer = false
			break
		}
	}

	return func(yield func(*format.Record) bool) {
		for _, f := range files {
			if args.stopped(ctx) {
				return
			}
			if _, ok := e.store.codecs.ForFile(f.Path); !ok {
				continue
			}

			records, err := e.store.readFile(f.Path)
			if err != nil {
				e.log.Warn("⚠️ Файл %s повреждён, читаем только целую часть: %v", f.Path, err)
			}

			for i := len(records) - 1; i >= 0; i-- {
				rec := &records[i]
				if !args.Until.IsZero() && rec.Time.After(args.Until) {
					continue
				}
				if !args.Since.IsZero() && rec.Time.Before(args.Since) {
					if singlePlayer {
						return
					}
					break
				}
				if args.Region != nil && !args.Region.Contains(rec.Pos) {
					continue
				}
				if !yield(rec) {
					return
				}
				if args.stopped(ctx) {
					return
				}
			}
		}
	}
}

// Undo откатывает изменения области. actor == nil - откат без проверки прав
// (административный), иначе каждая запись проходит через PlaceBlock.
// Уже применённые изменения при остановке не компенсируются.
func (e *Engine) Undo(ctx context.Context, actor world.Actor, scope Scope, args Args) (Result, error) {
	opID := uuid.NewString()
	ctx, span := otel.Tracer("undo").Start(ctx, "undo.Engine.Undo")
	defer span.End()
	span.SetAttributes(attribute.String("op_id", opID), attribute.String("scope", scope.Player))

	files, err := e.LocateCandidates(scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	res, err := e.UndoRecords(ctx, actor, e.Enumerate(ctx, files, args))
	res.Found = len(files) > 0 || (!scope.ServerWide() && e.store.HasPlayer(scope.Player))
	res.Files = len(files)

	e.log.Info("↩️ Откат %s [%s]: файлов=%d записей=%d применено=%d пропущено=%d",
		scopeName(scope), opID, res.Files, res.Records, res.Applied, res.Skipped)
	span.SetAttributes(attribute.Int("applied", res.Applied), attribute.Int("skipped", res.Skipped))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// UndoRecords откатывает записи в порядке последовательности. Записи
// изменяются на месте: повторное применение к тем же записям возвращает мир
// в состояние до первого отката.
func (e *Engine) UndoRecords(ctx context.Context, actor world.Actor, records iter.Seq[*format.Record]) (Result, error) {
	var res Result
	sender := e.senders(actor)

	var (
		lvl     Level
		lastMap string
		started bool
	)
	for rec := range records {
		res.Records++
		if !started || rec.Map != lastMap {
			sender.Flush(true)
			started = true
			lastMap = rec.Map
			found, ok := e.findLevel(rec.Map)
			if ok {
				lvl = found
				sender.SetLevel(found.Name())
			} else {
				lvl = nil
			}
		}

		if lvl != nil && e.UndoRecord(actor, lvl, rec, sender) {
			res.Applied++
			e.metrics.applied.Inc()
		} else {
			res.Skipped++
			e.metrics.skipped.Inc()
		}
	}
	sender.Flush(true)
	return res, ctx.Err()
}

// UndoRecord откатывает одну запись. Откат разрешён, если живой блок всё ещё
// равен новому значению записи или нестабилен (жидкость и т.п.). При успехе
// старое и новое состояния записи меняются местами.
func (e *Engine) UndoRecord(actor world.Actor, lvl Level, rec *format.Record, sender Sender) bool {
	x, y, z := rec.Pos.X, rec.Pos.Y, rec.Pos.Z
	live := lvl.GetTile(x, y, z)
	liveExt := lvl.GetExtTile(x, y, z)

	matches := live == rec.NewType && (!e.blocks.IsCustom(live) || liveExt == rec.NewExtType)
	if !matches && !e.blocks.IsVolatile(live) {
		return false
	}

	newType, newExt := rec.Type, rec.ExtType
	if actor != nil {
		if !lvl.PlaceBlock(actor, x, y, z, newType, newExt) {
			return false
		}
		sender.QueueUpdate(rec.Pos, newType, newExt)
		sender.Flush(false)
	} else {
		changed := live != newType || (e.blocks.IsCustom(live) && liveExt != newExt)
		if changed {
			sender.QueueUpdate(rec.Pos, newType, newExt)
			sender.Flush(false)
		}
		lvl.SetTile(x, y, z, newType)
		if e.blocks.IsCustom(newType) {
			lvl.SetExtTile(x, y, z, newExt)
		}
	}

	rec.Type, rec.ExtType = live, rec.NewExtType
	rec.NewType, rec.NewExtType = newType, newExt
	return true
}

// Highlight показывает игроку изменения области, не трогая мир: красным -
// правки, откат которых вернёт воздух или жидкость, зелёным - остальные.
func (e *Engine) Highlight(ctx context.Context, actor world.Actor, scope Scope, args Args) (Result, error) {
	if actor == nil {
		return Result{}, ErrNoActor
	}
	ctx, span := otel.Tracer("undo").Start(ctx, "undo.Engine.Highlight")
	defer span.End()
	span.SetAttributes(attribute.String("actor", actor.Name()), attribute.String("scope", scope.Player))

	files, err := e.LocateCandidates(scope)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	res, err := e.HighlightRecords(ctx, actor, e.Enumerate(ctx, files, args))
	res.Found = len(files) > 0 || (!scope.ServerWide() && e.store.HasPlayer(scope.Player))
	res.Files = len(files)

	e.log.Debug("🔦 Подсветка %s для %s: записей=%d", scopeName(scope), actor.Name(), res.Records)
	return res, err
}

// HighlightRecords отправляет маркеры для записей последовательности
func (e *Engine) HighlightRecords(ctx context.Context, actor world.Actor, records iter.Seq[*format.Record]) (Result, error) {
	var res Result
	sender := e.senders(actor)

	lastMap, started := "", false
	for rec := range records {
		res.Records++
		if !started || rec.Map != lastMap {
			sender.Flush(true)
			sender.SetLevel(rec.Map)
			started, lastMap = true, rec.Map
		}

		sender.QueueUpdate(rec.Pos, e.MarkerFor(rec), 0)
		sender.Flush(false)
		res.Applied++
		e.metrics.markers.Inc()
	}
	sender.Flush(true)
	return res, ctx.Err()
}

// MarkerFor возвращает цвет маркера записи
func (e *Engine) MarkerFor(rec *format.Record) block.BlockID {
	if rec.NewType == block.AirBlockID || e.blocks.IsLiquid(rec.Type) {
		return block.RedBlockID
	}
	return block.GreenBlockID
}

func scopeName(s Scope) string {
	if s.ServerWide() {
		return "сервера"
	}
	return "игрока " + s.Player
}
