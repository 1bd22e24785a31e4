// Package format содержит кодеки файлов журнала отмены: текстовый (.undo),
// старый бинарный (.unbin) и компактный бинарный (.uncbin). Новые файлы пишутся
// только компактным кодеком, остальные поддерживаются для чтения и миграции.
package format

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world/block"
)

var (
	// ErrCorrupt - поток обрезан или содержит недопустимые данные
	ErrCorrupt = errors.New("undo format: corrupt stream")
	// ErrCoordOutOfRange - координата не помещается в 16 бит
	ErrCoordOutOfRange = errors.New("undo format: coordinate out of range")
	// ErrBadMapName - имя уровня нельзя записать в этом формате
	ErrBadMapName = errors.New("undo format: invalid map name")
)

// MaxCoord - максимальная координата, которую можно сохранить
const MaxCoord = 0xFFFF

// Record - одно изменение блока игроком
type Record struct {
	Map        string
	Pos        vec.Vec3
	Type       block.BlockID // блок до изменения
	ExtType    block.BlockID // расширенный ID до изменения (только для custom)
	NewType    block.BlockID // блок после изменения
	NewExtType block.BlockID
	Time       time.Time
}

// Validate проверяет, что запись можно сохранить текущим кодеком:
// непустое имя уровня и координаты в пределах [0, MaxCoord].
func (r Record) Validate() error {
	if err := checkMapName(r.Map); err != nil {
		return err
	}
	if err := checkCoords(r.Pos); err != nil {
		return fmt.Errorf("%w: %v", err, r.Pos)
	}
	return nil
}

// Swap меняет местами старое и новое состояние записи
func (r *Record) Swap() {
	r.Type, r.NewType = r.NewType, r.Type
	r.ExtType, r.NewExtType = r.NewExtType, r.ExtType
}

// Classifier определяет, какие блоки несут расширенный ID
type Classifier interface {
	IsCustom(id block.BlockID) bool
}

// Codec кодирует и декодирует поток записей. Реализации не имеют состояния.
type Codec interface {
	// Ext - расширение файла с ведущей точкой
	Ext() string
	// Encode записывает записи в порядке следования
	Encode(w io.Writer, records []Record) error
	// Decode лениво читает записи в порядке записи. Последовательность однопроходная;
	// при повреждении потока выдаётся одна ошибка и чтение прекращается.
	Decode(r io.Reader) iter.Seq2[Record, error]
}

// Registry - неизменяемый набор кодеков с поиском по расширению
type Registry struct {
	text    Codec
	bin     Codec
	cbin    Codec
	byExt   map[string]Codec
	current Codec
}

// NewRegistry создаёт реестр из трёх стандартных кодеков
func NewRegistry(c Classifier) *Registry {
	text := TextCodec{}
	bin := BinCodec{}
	cbin := CBinCodec{Classifier: c}
	return &Registry{
		text: text,
		bin:  bin,
		cbin: cbin,
		byExt: map[string]Codec{
			text.Ext(): text,
			bin.Ext():  bin,
			cbin.Ext(): cbin,
		},
		current: cbin,
	}
}

// Current возвращает кодек для новых файлов
func (r *Registry) Current() Codec { return r.current }

// Text возвращает текстовый кодек
func (r *Registry) Text() Codec { return r.text }

// Bin возвращает старый бинарный кодек
func (r *Registry) Bin() Codec { return r.bin }

// ForFile возвращает кодек по расширению файла; ok == false для незнакомых файлов
func (r *Registry) ForFile(path string) (Codec, bool) {
	c, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return c, ok
}

// IsLegacy сообщает, что файл записан устаревшим форматом
func (r *Registry) IsLegacy(path string) bool {
	c, ok := r.ForFile(path)
	return ok && c != r.current
}

func checkCoords(p vec.Vec3) error {
	if p.X < 0 || p.Y < 0 || p.Z < 0 || p.X > MaxCoord || p.Y > MaxCoord || p.Z > MaxCoord {
		return ErrCoordOutOfRange
	}
	return nil
}
