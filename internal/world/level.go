package world

import (
	"sync"

	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world/block"
)

// InvalidBlockID возвращается GetTile для координат за пределами уровня
const InvalidBlockID block.BlockID = 0xFF

// Level - плотная трёхмерная сетка блоков с отдельным слоем расширенных ID
type Level struct {
	name   string
	width  int
	height int
	length int

	mu    sync.RWMutex
	tiles []block.BlockID
	ext   []block.BlockID

	table *block.Table
}

// NewLevel создаёт уровень, заполненный воздухом
func NewLevel(name string, width, height, length int, table *block.Table) *Level {
	n := width * height * length
	return &Level{
		name:   name,
		width:  width,
		height: height,
		length: length,
		tiles:  make([]block.BlockID, n),
		ext:    make([]block.BlockID, n),
		table:  table,
	}
}

// Name возвращает имя уровня
func (l *Level) Name() string { return l.name }

// Dims возвращает размеры уровня
func (l *Level) Dims() (width, height, length int) {
	return l.width, l.height, l.length
}

// Table возвращает таблицу блоков уровня
func (l *Level) Table() *block.Table { return l.table }

// InBounds проверяет, что координата лежит внутри уровня
func (l *Level) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < l.width && y < l.height && z < l.length
}

// PosToInt переводит координату в индекс массива, -1 за пределами уровня
func (l *Level) PosToInt(x, y, z int) int {
	if !l.InBounds(x, y, z) {
		return -1
	}
	return x + l.width*(z+y*l.length)
}

// GetTile возвращает живой блок в точке
func (l *Level) GetTile(x, y, z int) block.BlockID {
	idx := l.PosToInt(x, y, z)
	if idx < 0 {
		return InvalidBlockID
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tiles[idx]
}

// GetExtTile возвращает расширенный ID блока в точке
func (l *Level) GetExtTile(x, y, z int) block.BlockID {
	idx := l.PosToInt(x, y, z)
	if idx < 0 {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ext[idx]
}

// SetTile записывает блок без проверок прав и физики
func (l *Level) SetTile(x, y, z int, id block.BlockID) {
	idx := l.PosToInt(x, y, z)
	if idx < 0 {
		return
	}
	l.mu.Lock()
	l.tiles[idx] = id
	if !l.table.IsCustom(id) {
		l.ext[idx] = 0
	}
	l.mu.Unlock()
}

// SetExtTile записывает расширенный ID блока
func (l *Level) SetExtTile(x, y, z int, ext block.BlockID) {
	idx := l.PosToInt(x, y, z)
	if idx < 0 {
		return
	}
	l.mu.Lock()
	l.ext[idx] = ext
	l.mu.Unlock()
}

// PlaceBlock - полноценная установка блока от имени игрока: проверяет права на
// старый и новый блок, допустимость ID и границы уровня.
func (l *Level) PlaceBlock(actor Actor, x, y, z int, id, ext block.BlockID) bool {
	if actor == nil || !l.InBounds(x, y, z) || !l.table.IsValidBlockID(id) {
		return false
	}
	idx := l.PosToInt(x, y, z)

	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.tiles[idx]
	if !actor.CanModify(old) || !actor.CanModify(id) {
		return false
	}
	l.tiles[idx] = id
	if l.table.IsCustom(id) {
		l.ext[idx] = ext
	} else {
		l.ext[idx] = 0
	}
	return true
}

// Fill заполняет область одним блоком (генерация тестовых и пустых уровней)
func (l *Level) Fill(box vec.Box, id block.BlockID) {
	for y := box.Min.Y; y <= box.Max.Y; y++ {
		for z := box.Min.Z; z <= box.Max.Z; z++ {
			for x := box.Min.X; x <= box.Max.X; x++ {
				l.SetTile(x, y, z, id)
			}
		}
	}
}

// Snapshot возвращает копии массивов блоков и расширенных ID
func (l *Level) Snapshot() (tiles, ext []block.BlockID) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tiles = make([]block.BlockID, len(l.tiles))
	copy(tiles, l.tiles)
	ext = make([]block.BlockID, len(l.ext))
	copy(ext, l.ext)
	return tiles, ext
}

// Restore заменяет содержимое уровня; длины массивов должны совпадать с размером
func (l *Level) Restore(tiles, ext []block.BlockID) bool {
	if len(tiles) != len(l.tiles) || len(ext) != len(l.ext) {
		return false
	}
	l.mu.Lock()
	copy(l.tiles, tiles)
	copy(l.ext, ext)
	l.mu.Unlock()
	return true
}
