package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriterLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("undo", &buf, WARN)

	l.Info("не должно попасть в вывод")
	l.Warn("ротация не удалась: %d", 3)

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть", "INFO ниже порога WARN")
	assert.Contains(t, out, "[WARN] [undo] ротация не удалась: 3")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, INFO, ParseLevel("что-то"), "Неизвестный уровень должен давать INFO")
}

func TestComponentLoggers_FollowSetLevels(t *testing.T) {
	prev := LogDir
	LogDir = ""
	defer func() { LogDir = prev }()

	a := GetComponentLogger("test-a")
	assert.Same(t, a, GetComponentLogger("test-a"), "логгер компонента создаётся один раз")
	assert.Contains(t, Components(), "test-a")

	SetLevels(WARN, ERROR)
	defer SetLevels(INFO, DEBUG)

	b := GetComponentLogger("test-b")
	for _, l := range []*Logger{a, b} {
		assert.Equal(t, WARN, l.minConsoleLevel)
		assert.Equal(t, ERROR, l.minFileLevel)
	}
}
