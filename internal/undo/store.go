package undo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/blockundo/internal/logging"
	"github.com/annel0/blockundo/internal/undo/format"
)

// Generation - поколение журнала
type Generation int

const (
	Current Generation = iota
	Previous
)

const (
	currentDirName  = "current"
	previousDirName = "previous"
	tmpPrefix       = ".tmp-"
)

func (g Generation) String() string {
	if g == Previous {
		return previousDirName
	}
	return currentDirName
}

// FileRef - один файл журнала игрока
type FileRef struct {
	Path    string
	Player  string
	Gen     Generation
	Index   int
	ModTime time.Time
}

// Store ведёт раскладку журнала на диске:
//
//	<root>/current/<игрок>/<n>.<ext>
//	<root>/previous/<игрок>/<n>.<ext>
//
// Номера файлов задают хронологический порядок внутри каталога игрока.
type Store struct {
	root     string
	codecs   *format.Registry
	rotateAt int
	archiver *Archiver
	metrics  *Metrics
	log      *logging.Logger

	// mu: ротация берёт на запись, запись файлов и миграция - на чтение
	mu      sync.RWMutex
	players sync.Map // имя игрока -> *sync.Mutex
}

// StoreOption настраивает Store
type StoreOption func(*Store)

// WithArchiver включает архивирование вытесняемого поколения
func WithArchiver(a *Archiver) StoreOption {
	return func(s *Store) { s.archiver = a }
}

// WithStoreMetrics задаёт счётчики
func WithStoreMetrics(m *Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithStoreLogger задаёт логгер
func WithStoreLogger(l *logging.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore создаёт хранилище. rotateAt - предел поколения: число каталогов
// игроков в current, при достижении которого выполняется ротация.
func NewStore(root string, codecs *format.Registry, rotateAt int, opts ...StoreOption) *Store {
	s := &Store{
		root:     root,
		codecs:   codecs,
		rotateAt: rotateAt,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.log == nil {
		s.log = logging.GetStoreLogger()
	}
	return s
}

// Root возвращает корневой каталог
func (s *Store) Root() string { return s.root }

// Codecs возвращает реестр кодеков
func (s *Store) Codecs() *format.Registry { return s.codecs }

// Dir возвращает каталог поколения
func (s *Store) Dir(gen Generation) string {
	return filepath.Join(s.root, gen.String())
}

// PlayerDir возвращает каталог игрока в поколении
func (s *Store) PlayerDir(gen Generation, player string) string {
	return filepath.Join(s.Dir(gen), strings.ToLower(player))
}

// EnsureDirs создаёт каталоги поколений, если их нет
func (s *Store) EnsureDirs() error {
	for _, gen := range []Generation{Current, Previous} {
		if err := os.MkdirAll(s.Dir(gen), 0o755); err != nil {
			return fmt.Errorf("создание %s: %w", s.Dir(gen), err)
		}
	}
	return nil
}

func (s *Store) playerLock(player string) *sync.Mutex {
	mu, _ := s.players.LoadOrStore(strings.ToLower(player), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Rotate выполняет ротацию, если текущее поколение достигло предела
func (s *Store) Rotate() (bool, error) {
	return s.EnforceRetention(s.rotateAt)
}

// EnforceRetention выполняет ротацию, если в current не меньше limit каталогов игроков.
// limit <= 0 отключает проверку.
func (s *Store) EnforceRetention(limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureDirs(); err != nil {
		return false, err
	}
	n, err := countDirs(s.Dir(Current))
	if err != nil {
		return false, err
	}
	if n < limit {
		return false, nil
	}
	return true, s.rotateLocked()
}

// ForceRotate выполняет ротацию безусловно
func (s *Store) ForceRotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureDirs(); err != nil {
		return err
	}
	return s.rotateLocked()
}

// rotateLocked: previous удаляется, current становится previous, создаётся пустой current.
// Если старое поколение удалить не удалось, запись продолжается в current.
func (s *Store) rotateLocked() error {
	cur, prev := s.Dir(Current), s.Dir(Previous)

	if s.archiver != nil {
		if path, err := s.archiver.Archive(prev); err != nil {
			s.log.Warn("⚠️ Не удалось архивировать %s: %v", prev, err)
		} else if path != "" {
			s.log.Info("🗄️ Поколение %s заархивировано в %s", prev, path)
		}
	}

	if err := os.RemoveAll(prev); err != nil {
		s.metrics.rotationErrors.Inc()
		s.log.Error("❌ Не удалось удалить старое поколение %s: %v", prev, err)
		return fmt.Errorf("удаление %s: %w", prev, err)
	}
	if err := os.Rename(cur, prev); err != nil {
		s.metrics.rotationErrors.Inc()
		s.log.Error("❌ Не удалось переименовать %s -> %s: %v", cur, prev, err)
		_ = os.MkdirAll(cur, 0o755)
		_ = os.MkdirAll(prev, 0o755)
		return fmt.Errorf("ротация %s: %w", cur, err)
	}
	if err := os.MkdirAll(cur, 0o755); err != nil {
		return fmt.Errorf("создание %s: %w", cur, err)
	}

	s.metrics.rotations.Inc()
	s.log.Info("🔄 Ротация журнала отмены выполнена (%s)", s.root)
	return nil
}

// Persist записывает records в новый файл игрока в текущем поколении текущим
// кодеком. Перед записью при необходимости выполняется ротация; её ошибки
// только логируются.
func (s *Store) Persist(ctx context.Context, player string, records []format.Record) (FileRef, error) {
	if len(records) == 0 {
		return FileRef{}, nil
	}
	_, span := otel.Tracer("undo").Start(ctx, "undo.Store.Persist")
	defer span.End()
	span.SetAttributes(attribute.String("player", player), attribute.Int("records", len(records)))

	if _, err := s.Rotate(); err != nil {
		s.log.Warn("⚠️ Ротация перед записью не удалась: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, err := s.writeRecords(Current, player, records)
	if err != nil {
		span.RecordError(err)
		return FileRef{}, err
	}
	s.metrics.flushed.Add(float64(len(records)))
	s.log.Debug("💾 %d записей игрока %s сохранено в %s", len(records), player, ref.Path)
	return ref, nil
}

// writeRecords пишет файл со следующим номером. Вызывающий держит s.mu на чтение.
func (s *Store) writeRecords(gen Generation, player string, records []format.Record) (FileRef, error) {
	lock := s.playerLock(player)
	lock.Lock()
	defer lock.Unlock()

	dir := s.PlayerDir(gen, player)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileRef{}, fmt.Errorf("создание %s: %w", dir, err)
	}
	idx, err := nextIndex(dir)
	if err != nil {
		return FileRef{}, err
	}
	return s.commitFile(gen, player, idx, records)
}

// commitFile пишет records текущим кодеком в файл с номером idx. Файл сначала
// пишется под временным именем, синхронизируется и только потом
// переименовывается. Занятое имя не перезаписывается. Вызывающий держит
// блокировку игрока.
func (s *Store) commitFile(gen Generation, player string, idx int, records []format.Record) (FileRef, error) {
	dir := s.PlayerDir(gen, player)
	codec := s.codecs.Current()
	final := filepath.Join(dir, strconv.Itoa(idx)+codec.Ext())
	if _, err := os.Stat(final); err == nil {
		return FileRef{}, fmt.Errorf("%s: %w", final, os.ErrExist)
	}
	tmp := filepath.Join(dir, tmpPrefix+uuid.NewString())

	if err := writeDurable(tmp, codec, records); err != nil {
		_ = os.Remove(tmp)
		return FileRef{}, err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return FileRef{}, fmt.Errorf("переименование %s: %w", tmp, err)
	}
	if err := syncDir(dir); err != nil {
		s.log.Debug("fsync каталога %s: %v", dir, err)
	}

	s.metrics.filesWritten.Inc()
	return FileRef{
		Path:    final,
		Player:  strings.ToLower(player),
		Gen:     gen,
		Index:   idx,
		ModTime: time.Now(),
	}, nil
}

func writeDurable(path string, codec format.Codec, records []format.Record) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := codec.Encode(bw, records); err != nil {
		_ = f.Close()
		return fmt.Errorf("кодирование %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// parseIndex разбирает номер файла; ok == false для имён, не являющихся
// неотрицательным целым числом.
func parseIndex(name string) (int, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		return 0, false
	}
	for _, r := range stem {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(stem)
	if err != nil {
		return 0, false
	}
	return n, true
}

// nextIndex возвращает наибольший занятый номер + 1. Для сплошной нумерации
// это совпадает с количеством файлов.
func nextIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	next := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := parseIndex(e.Name()); ok && n >= next {
			next = n + 1
		}
	}
	return next, nil
}

func countDirs(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n, nil
}

// PlayerFiles возвращает файлы игрока в поколении в хронологическом порядке
// (числовая сортировка имён). Отсутствие каталога не является ошибкой.
func (s *Store) PlayerFiles(gen Generation, player string) ([]FileRef, error) {
	player = strings.ToLower(player)
	dir := s.PlayerDir(gen, player)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	files := make([]FileRef, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, ok := parseIndex(e.Name())
		if !ok {
			continue
		}
		ref := FileRef{
			Path:   filepath.Join(dir, e.Name()),
			Player: player,
			Gen:    gen,
			Index:  idx,
		}
		if info, err := e.Info(); err == nil {
			ref.ModTime = info.ModTime()
		}
		files = append(files, ref)
	}
	SortChronological(files)
	return files, nil
}

// Players возвращает игроков, у которых есть каталог в поколении
func (s *Store) Players(gen Generation) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(gen))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// HasPlayer сообщает, есть ли у игрока каталог хотя бы в одном поколении
func (s *Store) HasPlayer(player string) bool {
	for _, gen := range []Generation{Current, Previous} {
		if info, err := os.Stat(s.PlayerDir(gen, player)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// SortChronological сортирует файлы одного каталога по номеру ("10" после "2")
func SortChronological(files []FileRef) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Index != files[j].Index {
			return files[i].Index < files[j].Index
		}
		return files[i].Path < files[j].Path
	})
}
