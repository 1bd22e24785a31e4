package format

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"math"
	"time"

	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world/block"
)

var cbinMagic = [4]byte{'U', 'C', 'B', '1'}

const (
	flagExt    = 1 << 0
	flagNewExt = 1 << 1
)

// CBinCodec - текущий компактный формат. После сигнатуры UCB1 идут чанки:
// имя уровня (u16 длина + байты), базовое время (i64), число записей (u16).
// Запись: флаги (u8), x, y, z (u16), type, [ext], newtype, [newext], смещение
// времени (u16). Расширенный ID пишется только для custom-блоков.
type CBinCodec struct {
	Classifier Classifier
}

func (CBinCodec) Ext() string { return ".uncbin" }

func (c CBinCodec) isCustom(id block.BlockID) bool {
	return c.Classifier != nil && c.Classifier.IsCustom(id)
}

func (c CBinCodec) Encode(w io.Writer, records []Record) error {
	for i := range records {
		if err := checkMapName(records[i].Map); err != nil {
			return err
		}
		if err := checkCoords(records[i].Pos); err != nil {
			return err
		}
	}

	bw := &binWriter{w: bufio.NewWriter(w)}
	_, _ = bw.w.Write(cbinMagic[:])

	for _, ch := range splitChunks(records, 0, math.MaxUint16, math.MaxUint16) {
		bw.str(records[ch.start].Map)
		bw.i64(ch.base)
		bw.u16(uint16(ch.end - ch.start))
		for _, r := range records[ch.start:ch.end] {
			var flags uint8
			hasExt, hasNewExt := c.isCustom(r.Type), c.isCustom(r.NewType)
			if hasExt {
				flags |= flagExt
			}
			if hasNewExt {
				flags |= flagNewExt
			}
			bw.u8(flags)
			bw.u16(uint16(r.Pos.X))
			bw.u16(uint16(r.Pos.Y))
			bw.u16(uint16(r.Pos.Z))
			bw.u8(uint8(r.Type))
			if hasExt {
				bw.u8(uint8(r.ExtType))
			}
			bw.u8(uint8(r.NewType))
			if hasNewExt {
				bw.u8(uint8(r.NewExtType))
			}
			bw.u16(uint16(r.Time.Unix() - ch.base))
		}
	}
	return bw.w.Flush()
}

func (CBinCodec) Decode(rd io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		br := newBinReader(rd)
		if br.atEOF() {
			return
		}
		magic := br.read(4)
		if err := br.corrupt(); err != nil {
			yield(Record{}, err)
			return
		}
		if [4]byte(magic) != cbinMagic {
			yield(Record{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, magic))
			return
		}

		for !br.atEOF() {
			name := br.str()
			base := br.i64()
			count := br.u16()
			if err := br.corrupt(); err != nil {
				yield(Record{}, err)
				return
			}

			for i := uint16(0); i < count; i++ {
				var rec Record
				flags := br.u8()
				if flags&^(flagExt|flagNewExt) != 0 && br.err == nil {
					yield(Record{}, fmt.Errorf("%w: unknown flags %#x", ErrCorrupt, flags))
					return
				}
				rec.Map = name
				rec.Pos = vec.Vec3{X: int(br.u16()), Y: int(br.u16()), Z: int(br.u16())}
				rec.Type = block.BlockID(br.u8())
				if flags&flagExt != 0 {
					rec.ExtType = block.BlockID(br.u8())
				}
				rec.NewType = block.BlockID(br.u8())
				if flags&flagNewExt != 0 {
					rec.NewExtType = block.BlockID(br.u8())
				}
				off := br.u16()
				if err := br.corrupt(); err != nil {
					yield(Record{}, err)
					return
				}
				rec.Time = time.Unix(base+int64(off), 0).UTC()
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}
