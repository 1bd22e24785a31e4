package undo

import "github.com/prometheus/client_golang/prometheus"

// Metrics - счётчики журнала отмены
type Metrics struct {
	appended       prometheus.Counter
	rejected       prometheus.Counter
	flushed        prometheus.Counter
	filesWritten   prometheus.Counter
	rotations      prometheus.Counter
	rotationErrors prometheus.Counter
	applied        prometheus.Counter
	skipped        prometheus.Counter
	markers        prometheus.Counter
	decodeErrors   prometheus.Counter
	migrated       prometheus.Counter
}

// NewMetrics создаёт счётчики и регистрирует их в reg (nil - без регистрации)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "undo",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		appended:       counter("records_appended_total", "Записей добавлено в буферы игроков."),
		rejected:       counter("records_rejected_total", "Записей отклонено: координаты или имя уровня не сохраняются."),
		flushed:        counter("records_flushed_total", "Записей сохранено на диск."),
		filesWritten:   counter("files_written_total", "Файлов журнала записано."),
		rotations:      counter("rotations_total", "Ротаций поколений."),
		rotationErrors: counter("rotation_errors_total", "Ошибок очистки при ротации."),
		applied:        counter("records_applied_total", "Записей откачено в мире."),
		skipped:        counter("records_skipped_total", "Записей пропущено при откате (конфликт или нет уровня)."),
		markers:        counter("highlight_markers_total", "Маркеров подсветки отправлено."),
		decodeErrors:   counter("decode_errors_total", "Повреждённых файлов при чтении."),
		migrated:       counter("records_migrated_total", "Записей перенесено из старых форматов."),
	}
	if reg != nil {
		reg.MustRegister(m.appended, m.rejected, m.flushed, m.filesWritten, m.rotations, m.rotationErrors,
			m.applied, m.skipped, m.markers, m.decodeErrors, m.migrated)
	}
	return m
}
