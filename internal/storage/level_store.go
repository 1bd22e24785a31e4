package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/blockundo/internal/world"
	"github.com/annel0/blockundo/internal/world/block"
)

// ErrLevelNotFound - уровень не сохранён
var ErrLevelNotFound = errors.New("уровень не найден")

const (
	metaPrefix  = "level:meta:"
	tilesPrefix = "level:tiles:"
)

// LevelMeta - заголовок сохранённого уровня
type LevelMeta struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Length int    `json:"length"`
}

// LevelStore хранит уровни в BadgerDB: заголовок в JSON, блоки и
// расширенные ID одним сжатым zstd массивом.
type LevelStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewLevelStore открывает хранилище в <dataPath>/levels
func NewLevelStore(dataPath string) (*LevelStore, error) {
	dbPath := filepath.Join(dataPath, "levels")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &LevelStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		enc:     enc,
		dec:     dec,
	}, nil
}

// Close закрывает хранилище
func (ls *LevelStore) Close() error {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	if !ls.isReady {
		return nil
	}
	ls.isReady = false
	_ = ls.enc.Close()
	ls.dec.Close()
	return ls.db.Close()
}

func levelKey(prefix, name string) []byte {
	return []byte(prefix + strings.ToLower(name))
}

// SaveLevel сохраняет уровень целиком
func (ls *LevelStore) SaveLevel(l *world.Level) error {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if !ls.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	w, h, d := l.Dims()
	meta, err := json.Marshal(LevelMeta{Name: l.Name(), Width: w, Height: h, Length: d})
	if err != nil {
		return fmt.Errorf("ошибка сериализации заголовка: %w", err)
	}

	tiles, ext := l.Snapshot()
	raw := make([]byte, 0, len(tiles)+len(ext))
	for _, id := range tiles {
		raw = append(raw, byte(id))
	}
	for _, id := range ext {
		raw = append(raw, byte(id))
	}
	packed := ls.enc.EncodeAll(raw, nil)

	err = ls.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(levelKey(metaPrefix, l.Name()), meta); err != nil {
			return err
		}
		return txn.Set(levelKey(tilesPrefix, l.Name()), packed)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// LoadLevel загружает уровень. Отсутствующий уровень - ErrLevelNotFound.
func (ls *LevelStore) LoadLevel(name string, table *block.Table) (*world.Level, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if !ls.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var metaData, packed []byte
	err := ls.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(levelKey(metaPrefix, name))
		if err != nil {
			return err
		}
		if metaData, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(levelKey(tilesPrefix, name))
		if err != nil {
			return err
		}
		packed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLevelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var meta LevelMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("ошибка десериализации заголовка: %w", err)
	}
	raw, err := ls.dec.DecodeAll(packed, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки блоков %s: %w", name, err)
	}

	l := world.NewLevel(meta.Name, meta.Width, meta.Height, meta.Length, table)
	n := meta.Width * meta.Height * meta.Length
	if len(raw) != 2*n {
		return nil, fmt.Errorf("уровень %s: ожидалось %d байт, получено %d", name, 2*n, len(raw))
	}
	tiles := make([]block.BlockID, n)
	ext := make([]block.BlockID, n)
	for i := 0; i < n; i++ {
		tiles[i] = block.BlockID(raw[i])
		ext[i] = block.BlockID(raw[n+i])
	}
	l.Restore(tiles, ext)
	return l, nil
}

// ListLevels возвращает имена сохранённых уровней
func (ls *LevelStore) ListLevels() ([]string, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if !ls.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var names []string
	err := ls.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var meta LevelMeta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return err
			}
			names = append(names, meta.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// LoadAll загружает все сохранённые уровни в реестр
func (ls *LevelStore) LoadAll(levels *world.Levels, table *block.Table) (int, error) {
	names, err := ls.ListLevels()
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		l, err := ls.LoadLevel(name, table)
		if err != nil {
			return 0, err
		}
		levels.Add(l)
	}
	return len(names), nil
}

// SaveAll сохраняет все уровни реестра
func (ls *LevelStore) SaveAll(levels *world.Levels) error {
	var errs []error
	for _, l := range levels.All() {
		if err := ls.SaveLevel(l); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// DeleteLevel удаляет уровень
func (ls *LevelStore) DeleteLevel(name string) error {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if !ls.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return ls.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(levelKey(metaPrefix, name)); err != nil {
			return err
		}
		return txn.Delete(levelKey(tilesPrefix, name))
	})
}
