package undo

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Archiver упаковывает вытесняемое поколение в <dir>/<время>-<id>.tar.zst
// перед удалением.
type Archiver struct {
	dir string
}

// NewArchiver создаёт архиватор; dir создаётся при первой записи
func NewArchiver(dir string) *Archiver {
	return &Archiver{dir: dir}
}

// Archive упаковывает каталог поколения. Для пустого или отсутствующего
// каталога архив не создаётся и возвращается пустой путь.
func (a *Archiver) Archive(genDir string) (string, error) {
	var files []string
	err := filepath.WalkDir(genDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.tar.zst", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(a.dir, name)

	if err := writeArchive(path, genDir, files); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func writeArchive(path, base string, files []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	tw := tar.NewWriter(enc)

	for _, file := range files {
		if err := addToTar(tw, base, file); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func addToTar(tw *tar.Writer, base, file string) error {
	info, err := os.Stat(file)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(base, file)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	src, err := os.Open(file)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, bufio.NewReader(src))
	return err
}

// ListArchive возвращает имена файлов внутри архива
func ListArchive(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var names []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return names, err
		}
		names = append(names, hdr.Name)
	}
}
