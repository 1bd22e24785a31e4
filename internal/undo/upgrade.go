package undo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/blockundo/internal/undo/format"
)

// UpgradeResult описывает итог миграции игрока
type UpgradeResult struct {
	Found   bool // у игрока были файлы старых форматов
	Files   int  // сколько старых файлов обработано
	Records int  // сколько записей перенесено
}

// Upgrade переписывает файлы игрока в старых форматах (.undo, .unbin) в файлы
// текущего формата. Подряд идущие старые файлы поколения сливаются в один файл
// с номером самого старого из них, поэтому порядок номеров по-прежнему совпадает
// с хронологией и более новые файлы текущего формата остаются после него.
// Исходные файлы удаляются только после того, как новый файл полностью записан,
// синхронизирован и переименован; сбой до этого момента оставляет старые файлы
// нетронутыми.
func (s *Store) Upgrade(ctx context.Context, player string) (UpgradeResult, error) {
	ctx, span := otel.Tracer("undo").Start(ctx, "undo.Store.Upgrade")
	defer span.End()
	span.SetAttributes(attribute.String("player", player))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var res UpgradeResult
	for _, gen := range []Generation{Current, Previous} {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := s.upgradeGeneration(gen, player)
		res.Found = res.Found || r.Found
		res.Files += r.Files
		res.Records += r.Records
		if err != nil {
			span.RecordError(err)
			return res, err
		}
	}
	span.SetAttributes(attribute.Int("records", res.Records))
	return res, nil
}

func (s *Store) upgradeGeneration(gen Generation, player string) (UpgradeResult, error) {
	lock := s.playerLock(player)
	lock.Lock()
	defer lock.Unlock()

	files, err := s.PlayerFiles(gen, player)
	if err != nil {
		return UpgradeResult{}, err
	}

	var res UpgradeResult
	for _, run := range legacyRuns(files, s.codecs) {
		res.Found = true
		n, err := s.upgradeRun(gen, player, run)
		if err != nil {
			return res, err
		}
		res.Files += len(run)
		res.Records += n
	}
	return res, nil
}

// legacyRuns группирует старые файлы в серии, не разделённые файлами текущего
// формата. files упорядочены по номеру.
func legacyRuns(files []FileRef, codecs *format.Registry) [][]FileRef {
	var (
		runs [][]FileRef
		cur  []FileRef
	)
	for _, f := range files {
		if codecs.IsLegacy(f.Path) {
			cur = append(cur, f)
			continue
		}
		if len(cur) > 0 {
			runs = append(runs, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// upgradeRun сливает серию старых файлов в один файл с номером первого из них
func (s *Store) upgradeRun(gen Generation, player string, run []FileRef) (int, error) {
	// Файлы читаются от новых к старым, записи каждого файла - тоже от новых к
	// старым; общий список разворачивается один раз в конце.
	var merged []format.Record
	for i := len(run) - 1; i >= 0; i-- {
		records, err := s.readFile(run[i].Path)
		if err != nil {
			if !errors.Is(err, format.ErrCorrupt) {
				return 0, err
			}
			s.log.Warn("⚠️ %s прочитан частично: %v", run[i].Path, err)
		}
		for j := len(records) - 1; j >= 0; j-- {
			merged = append(merged, records[j])
		}
	}
	slices.Reverse(merged)

	if len(merged) > 0 {
		ref, err := s.commitFile(gen, player, run[0].Index, merged)
		switch {
		case errors.Is(err, os.ErrExist):
			// Прерванная миграция: файл уже записан целиком, осталось убрать исходники
			s.log.Warn("⚠️ %d%s уже существует, удаляем оставшиеся старые файлы игрока %s",
				run[0].Index, s.codecs.Current().Ext(), player)
		case err != nil:
			return 0, fmt.Errorf("запись объединённого файла: %w", err)
		default:
			s.log.Info("📦 %d файлов игрока %s (%s) объединены в %s", len(run), player, gen, ref.Path)
		}
	}

	var errs []error
	for _, f := range run {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.metrics.migrated.Add(float64(len(merged)))
	return len(merged), errors.Join(errs...)
}

// readFile декодирует файл целиком в порядке записи. При повреждении
// возвращает прочитанную часть и ошибку.
func (s *Store) readFile(path string) ([]format.Record, error) {
	codec, ok := s.codecs.ForFile(path)
	if !ok {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []format.Record
	for rec, err := range codec.Decode(f) {
		if err != nil {
			s.metrics.decodeErrors.Inc()
			return out, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
