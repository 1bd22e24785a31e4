package format

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"time"

	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world/block"
)

// binReader читает little-endian поля, запоминая первую ошибку
type binReader struct {
	r   *bufio.Reader
	buf [8]byte
	err error
}

func newBinReader(r io.Reader) *binReader {
	return &binReader{r: bufio.NewReader(r)}
}

func (b *binReader) read(n int) []byte {
	if b.err != nil {
		return b.buf[:n]
	}
	if _, err := io.ReadFull(b.r, b.buf[:n]); err != nil {
		b.err = err
	}
	return b.buf[:n]
}

func (b *binReader) u8() uint8   { return b.read(1)[0] }
func (b *binReader) u16() uint16 { return binary.LittleEndian.Uint16(b.read(2)) }
func (b *binReader) u32() uint32 { return binary.LittleEndian.Uint32(b.read(4)) }
func (b *binReader) i64() int64  { return int64(binary.LittleEndian.Uint64(b.read(8))) }

func (b *binReader) str() string {
	n := int(b.u16())
	if b.err != nil {
		return ""
	}
	s := make([]byte, n)
	if _, err := io.ReadFull(b.r, s); err != nil {
		b.err = err
	}
	return string(s)
}

// atEOF сообщает о чистом конце потока на границе чанка
func (b *binReader) atEOF() bool {
	_, err := b.r.Peek(1)
	return errors.Is(err, io.EOF)
}

func (b *binReader) corrupt() error {
	if b.err == nil {
		return nil
	}
	if errors.Is(b.err, io.EOF) || errors.Is(b.err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrCorrupt)
	}
	return fmt.Errorf("%w: %v", ErrCorrupt, b.err)
}

type binWriter struct {
	w   *bufio.Writer
	buf [8]byte
}

func (b *binWriter) u8(v uint8) { _ = b.w.WriteByte(v) }
func (b *binWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(b.buf[:2], v)
	_, _ = b.w.Write(b.buf[:2])
}
func (b *binWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(b.buf[:4], v)
	_, _ = b.w.Write(b.buf[:4])
}
func (b *binWriter) i64(v int64) {
	binary.LittleEndian.PutUint64(b.buf[:8], uint64(v))
	_, _ = b.w.Write(b.buf[:8])
}
func (b *binWriter) str(s string) {
	b.u16(uint16(len(s)))
	_, _ = b.w.WriteString(s)
}

func checkMapName(name string) error {
	if name == "" || len(name) > math.MaxUint16 {
		return fmt.Errorf("%w: %q", ErrBadMapName, name)
	}
	return nil
}

// chunk - подряд идущие записи одного уровня с общим базовым временем
type chunk struct {
	start, end int
	base       int64
}

// splitChunks режет записи на чанки: новый чанк начинается при смене уровня,
// при выходе смещения времени из [minOff, maxOff] или по достижении maxCount.
func splitChunks(records []Record, minOff, maxOff int64, maxCount int) []chunk {
	var chunks []chunk
	for i := range records {
		t := records[i].Time.Unix()
		if n := len(chunks); n > 0 {
			c := &chunks[n-1]
			off := t - c.base
			if records[i].Map == records[c.start].Map && off >= minOff && off <= maxOff && c.end-c.start < maxCount {
				c.end = i + 1
				continue
			}
		}
		chunks = append(chunks, chunk{start: i, end: i + 1, base: t})
	}
	return chunks
}

// BinCodec - старый бинарный формат фиксированной ширины без расширенных ID.
// Чанк: имя уровня (u16 длина + байты), базовое время (i64), число записей (u32),
// затем записи по 12 байт: x, y, z (u16), смещение времени (i32), type, newtype.
type BinCodec struct{}

func (BinCodec) Ext() string { return ".unbin" }

func (BinCodec) Encode(w io.Writer, records []Record) error {
	for i := range records {
		if err := checkMapName(records[i].Map); err != nil {
			return err
		}
		if err := checkCoords(records[i].Pos); err != nil {
			return err
		}
	}

	bw := &binWriter{w: bufio.NewWriter(w)}
	for _, c := range splitChunks(records, math.MinInt32, math.MaxInt32, math.MaxInt32) {
		bw.str(records[c.start].Map)
		bw.i64(c.base)
		bw.u32(uint32(c.end - c.start))
		for _, r := range records[c.start:c.end] {
			bw.u16(uint16(r.Pos.X))
			bw.u16(uint16(r.Pos.Y))
			bw.u16(uint16(r.Pos.Z))
			bw.u32(uint32(int32(r.Time.Unix() - c.base)))
			bw.u8(uint8(r.Type))
			bw.u8(uint8(r.NewType))
		}
	}
	return bw.w.Flush()
}

func (BinCodec) Decode(rd io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		br := newBinReader(rd)
		for !br.atEOF() {
			name := br.str()
			base := br.i64()
			count := br.u32()
			if err := br.corrupt(); err != nil {
				yield(Record{}, err)
				return
			}

			for i := uint32(0); i < count; i++ {
				x, y, z := br.u16(), br.u16(), br.u16()
				off := int32(br.u32())
				typ, newTyp := br.u8(), br.u8()
				if err := br.corrupt(); err != nil {
					yield(Record{}, err)
					return
				}
				rec := Record{
					Map:     name,
					Pos:     vec.Vec3{X: int(x), Y: int(y), Z: int(z)},
					Type:    block.BlockID(typ),
					NewType: block.BlockID(newTyp),
					Time:    time.Unix(base+int64(off), 0).UTC(),
				}
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}
