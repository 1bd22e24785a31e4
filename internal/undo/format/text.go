package format

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world/block"
)

// TextCodec - исторический текстовый формат, одна запись на строку:
//
//	<map> <x> <y> <z> <unix-seconds> <type> <newtype>
type TextCodec struct{}

func (TextCodec) Ext() string { return ".undo" }

func (TextCodec) Encode(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for i := range records {
		r := &records[i]
		if r.Map == "" || strings.ContainsAny(r.Map, " \t\r\n") {
			return fmt.Errorf("%w: %q", ErrBadMapName, r.Map)
		}
		if err := checkCoords(r.Pos); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(bw, "%s %d %d %d %d %d %d\n",
			r.Map, r.Pos.X, r.Pos.Y, r.Pos.Z, r.Time.Unix(), r.Type, r.NewType); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (TextCodec) Decode(rd io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		sc := bufio.NewScanner(rd)
		line := 0
		for sc.Scan() {
			line++
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			rec, err := parseTextLine(text)
			if err != nil {
				yield(Record{}, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err))
		}
	}
}

func parseTextLine(text string) (Record, error) {
	f := strings.Fields(text)
	if len(f) != 7 {
		return Record{}, fmt.Errorf("expected 7 fields, got %d", len(f))
	}

	var nums [6]int64
	for i := range nums {
		v, err := strconv.ParseInt(f[i+1], 10, 64)
		if err != nil {
			return Record{}, err
		}
		nums[i] = v
	}

	pos := vec.Vec3{X: int(nums[0]), Y: int(nums[1]), Z: int(nums[2])}
	if err := checkCoords(pos); err != nil {
		return Record{}, err
	}
	if nums[4] < 0 || nums[4] > 0xFF || nums[5] < 0 || nums[5] > 0xFF {
		return Record{}, fmt.Errorf("block id out of range")
	}

	return Record{
		Map:     f[0],
		Pos:     pos,
		Type:    block.BlockID(nums[4]),
		NewType: block.BlockID(nums[5]),
		Time:    time.Unix(nums[3], 0).UTC(),
	}, nil
}
