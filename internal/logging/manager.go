package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// components хранит логгеры подсистем журнала (undo, store, replay, ...).
// Пороги, заданные через SetLevels, применяются и к уже созданным, и к
// будущим логгерам.
type components struct {
	mu      sync.Mutex
	loggers map[string]*Logger

	console LogLevel
	file    LogLevel
}

var registry = &components{
	loggers: make(map[string]*Logger),
	console: INFO,
	file:    DEBUG,
}

func (c *components) get(component string) *Logger {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.loggers[component]; ok {
		return l
	}
	l, err := NewLogger(component)
	if err != nil {
		// Файл недоступен - пишем только в консоль
		Default().Warn("⚠️ Логгер %s без файла: %v", component, err)
		l = &Logger{component: component, consoleLogger: Default().consoleLogger, minFileLevel: ERROR + 1}
	}
	l.SetLevels(c.console, c.file)
	c.loggers[component] = l
	return l
}

// GetComponentLogger возвращает логгер компонента, создавая его при первом обращении
func GetComponentLogger(component string) *Logger {
	return registry.get(component)
}

// SetLevels задаёт пороги консоли и файла для глобального и всех компонентных логгеров
func SetLevels(console, file LogLevel) {
	Default().SetLevels(console, file)

	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.console, registry.file = console, file
	for _, l := range registry.loggers {
		l.SetLevels(console, file)
	}
}

// Components возвращает имена созданных компонентных логгеров
func Components() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	names := make([]string, 0, len(registry.loggers))
	for name := range registry.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll закрывает файлы всех компонентных логгеров и глобального логгера
func CloseAll() error {
	registry.mu.Lock()
	var errs []error
	for name, l := range registry.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	registry.loggers = make(map[string]*Logger)
	registry.mu.Unlock()

	CloseDefaultLogger()
	return errors.Join(errs...)
}

func GetUndoLogger() *Logger    { return GetComponentLogger("undo") }
func GetStoreLogger() *Logger   { return GetComponentLogger("store") }
func GetReplayLogger() *Logger  { return GetComponentLogger("replay") }
func GetStorageLogger() *Logger { return GetComponentLogger("storage") }
