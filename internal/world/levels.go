package world

import (
	"sort"
	"strings"
	"sync"

	"github.com/annel0/blockundo/internal/world/block"
)

// Levels - реестр загруженных уровней, поиск без учёта регистра
type Levels struct {
	mu     sync.RWMutex
	levels map[string]*Level
}

// NewLevels создаёт пустой реестр
func NewLevels() *Levels {
	return &Levels{levels: make(map[string]*Level)}
}

// Add регистрирует уровень, заменяя уровень с тем же именем
func (ls *Levels) Add(l *Level) {
	ls.mu.Lock()
	ls.levels[strings.ToLower(l.Name())] = l
	ls.mu.Unlock()
}

// FindLevelByName ищет уровень по точному имени (без учёта регистра)
func (ls *Levels) FindLevelByName(name string) (*Level, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	l, ok := ls.levels[strings.ToLower(name)]
	return l, ok
}

// All возвращает уровни, отсортированные по имени
func (ls *Levels) All() []*Level {
	ls.mu.RLock()
	out := make([]*Level, 0, len(ls.levels))
	for _, l := range ls.levels {
		out = append(out, l)
	}
	ls.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Actor - инициатор действия с правами (игрок)
type Actor interface {
	Name() string
	// CanModify сообщает, может ли актор ставить или ломать блок данного типа
	CanModify(id block.BlockID) bool
}

// Player - простейший актор: запрещённые блоки перечислены явно
type Player struct {
	name   string
	denied map[block.BlockID]struct{}
}

// NewPlayer создаёт игрока, которому запрещено трогать перечисленные блоки
func NewPlayer(name string, denied ...block.BlockID) *Player {
	p := &Player{name: name, denied: make(map[block.BlockID]struct{}, len(denied))}
	for _, id := range denied {
		p.denied[id] = struct{}{}
	}
	return p
}

func (p *Player) Name() string { return p.name }

func (p *Player) CanModify(id block.BlockID) bool {
	_, denied := p.denied[id]
	return !denied
}
