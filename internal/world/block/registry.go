package block

import "sync"

// BlockID представляет однобайтовый идентификатор блока
type BlockID uint8

// Константы ID блоков
const (
	AirBlockID         BlockID = 0
	StoneBlockID       BlockID = 1
	GrassBlockID       BlockID = 2
	DirtBlockID        BlockID = 3
	CobblestoneBlockID BlockID = 4
	WoodBlockID        BlockID = 5
	SaplingBlockID     BlockID = 6
	BedrockBlockID     BlockID = 7
	WaterBlockID       BlockID = 8
	StillWaterBlockID  BlockID = 9
	LavaBlockID        BlockID = 10
	StillLavaBlockID   BlockID = 11
	SandBlockID        BlockID = 12
	GravelBlockID      BlockID = 13

	// Маркеры подсветки
	RedBlockID   BlockID = 21
	GreenBlockID BlockID = 25

	GlassBlockID BlockID = 20

	// CustomBlockID - блок, чья настоящая идентичность хранится во втором байте (ext id)
	CustomBlockID BlockID = 163
)

// Props описывает свойства блока, важные для журнала отмены
type Props struct {
	Name string
	// Liquid - жидкость (вода, лава)
	Liquid bool
	// Volatile - состояние блока меняется само по себе (физика), откат разрешён всегда
	Volatile bool
	// Custom - тип с расширенным идентификатором
	Custom bool
}

// Table - таблица свойств блоков. Нулевое значение пустое, безопасна для
// конкурентного чтения после заполнения.
type Table struct {
	mu    sync.RWMutex
	props [256]Props
	known [256]bool
}

// NewTable создаёт пустую таблицу
func NewTable() *Table {
	return &Table{}
}

// DefaultTable создаёт таблицу со стандартным набором блоков
func DefaultTable() *Table {
	t := NewTable()
	t.Register(AirBlockID, Props{Name: "air"})
	t.Register(StoneBlockID, Props{Name: "stone"})
	// Трава зарастает/вытаптывается без участия игрока
	t.Register(GrassBlockID, Props{Name: "grass", Volatile: true})
	t.Register(DirtBlockID, Props{Name: "dirt"})
	t.Register(CobblestoneBlockID, Props{Name: "cobblestone"})
	t.Register(WoodBlockID, Props{Name: "wood"})
	t.Register(SaplingBlockID, Props{Name: "sapling"})
	t.Register(BedrockBlockID, Props{Name: "bedrock"})
	t.Register(WaterBlockID, Props{Name: "water", Liquid: true, Volatile: true})
	t.Register(StillWaterBlockID, Props{Name: "still_water", Liquid: true, Volatile: true})
	t.Register(LavaBlockID, Props{Name: "lava", Liquid: true, Volatile: true})
	t.Register(StillLavaBlockID, Props{Name: "still_lava", Liquid: true, Volatile: true})
	t.Register(SandBlockID, Props{Name: "sand"})
	t.Register(GravelBlockID, Props{Name: "gravel"})
	t.Register(GlassBlockID, Props{Name: "glass"})
	t.Register(RedBlockID, Props{Name: "red"})
	t.Register(GreenBlockID, Props{Name: "green"})
	t.Register(CustomBlockID, Props{Name: "custom", Custom: true})
	return t
}

// Register добавляет или заменяет свойства блока
func (t *Table) Register(id BlockID, p Props) {
	t.mu.Lock()
	t.props[id] = p
	t.known[id] = true
	t.mu.Unlock()
}

// Get возвращает свойства блока
func (t *Table) Get(id BlockID) (Props, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.props[id], t.known[id]
}

// IsValidBlockID проверяет, является ли ID допустимым идентификатором блока
func (t *Table) IsValidBlockID(id BlockID) bool {
	_, ok := t.Get(id)
	return ok
}

// IsVolatile сообщает, что блок нестабилен (жидкость и т.п.)
func (t *Table) IsVolatile(id BlockID) bool {
	p, _ := t.Get(id)
	return p.Volatile
}

// IsLiquid сообщает, что блок - жидкость
func (t *Table) IsLiquid(id BlockID) bool {
	p, _ := t.Get(id)
	return p.Liquid
}

// IsCustom сообщает, что блок использует расширенный идентификатор
func (t *Table) IsCustom(id BlockID) bool {
	p, _ := t.Get(id)
	return p.Custom
}

// Name возвращает имя блока или пустую строку
func (t *Table) Name(id BlockID) string {
	p, _ := t.Get(id)
	return p.Name
}
