package xref

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/recovery"
	"github.com/wudi/pdfshrink/scanner"
)

// Table maps object numbers to their location in the file.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	// ObjStream reports the containing object stream for compressed objects.
	ObjStream(objNum int) (streamNum int, index int, found bool)
	Objects() []int
	Type() string
	Trailer() *raw.DictObj
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
	Linearized() bool
	Trailer() *raw.DictObj
	Repaired() bool
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Filters      *filters.Pipeline
}

const defaultMaxXRefDepth = 50

// NewResolver returns a resolver that follows /Prev and /XRefStm chains and,
// when the recovery strategy allows it, rebuilds the table by scanning.
func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = defaultMaxXRefDepth
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.DefaultPipeline(filters.Limits{})
	}
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg        ResolverConfig
	linearized bool
	repaired   bool
	trailer    *raw.DictObj
}

func (r *resolver) Linearized() bool      { return r.linearized }
func (r *resolver) Trailer() *raw.DictObj { return r.trailer }
func (r *resolver) Repaired() bool        { return r.repaired }

func (r *resolver) Resolve(ctx context.Context, src io.ReaderAt) (Table, error) {
	data := scanner.ReadAll(src)
	r.linearized = detectLinearized(data)

	t, err := r.resolveChain(ctx, data)
	if err == nil {
		err = validateSize(t)
	}
	if err == nil {
		r.trailer = t.trailer
		return t, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if r.cfg.Recovery == nil || !recovery.Tolerates(r.cfg.Recovery.OnError(ctx, err, recovery.Location{Component: "xref"})) {
		return nil, err
	}
	t, rerr := repair(ctx, data)
	if rerr != nil {
		return nil, fmt.Errorf("%v; repair: %w", err, rerr)
	}
	r.repaired = true
	r.trailer = t.trailer
	return t, nil
}

func (r *resolver) resolveChain(ctx context.Context, data []byte) (*table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := &table{entries: make(map[int]entry)}
	visited := make(map[int64]bool)
	offset := start
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("xref chain deeper than %d sections", r.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			return nil, fmt.Errorf("xref chain loops at offset %d", offset)
		}
		visited[offset] = true

		sectionTrailer, kind, err := r.readSection(ctx, data, offset, t)
		if err != nil {
			return nil, err
		}
		if depth == 0 {
			t.kind = kind
			t.trailer = sectionTrailer
		} else {
			mergeTrailer(t.trailer, sectionTrailer)
		}

		prev, ok := sectionTrailer.Int("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	return t, nil
}

// readSection parses the classic table or xref stream at offset. Entries that
// a newer section already defined are left untouched.
func (r *resolver) readSection(ctx context.Context, data []byte, offset int64, t *table) (*raw.DictObj, string, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, "", fmt.Errorf("xref offset out of range: %d", offset)
	}
	rest := bytes.TrimLeft(data[offset:], " \t\r\n\f\x00")
	if bytes.HasPrefix(rest, []byte("xref")) {
		at := offset + int64(len(data[offset:])-len(rest))
		trailer, err := parseClassic(data, at, t)
		if err != nil {
			return nil, "", err
		}
		if stm, ok := trailer.Int("XRefStm"); ok {
			if _, err := r.parseStream(ctx, data, stm, t); err != nil {
				return nil, "", fmt.Errorf("hybrid xref stream: %w", err)
			}
		}
		return trailer, "table", nil
	}
	trailer, err := r.parseStream(ctx, data, offset, t)
	if err != nil {
		return nil, "", err
	}
	return trailer, "xref-stream", nil
}

func parseClassic(data []byte, offset int64, t *table) (*raw.DictObj, error) {
	sc := bufio.NewScanner(bytes.NewReader(data[offset:]))
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}
	if line, ok := next(); !ok || line != "xref" {
		return nil, errors.New("xref keyword not found at offset")
	}

	for {
		line, ok := next()
		if !ok {
			return nil, errors.New("unexpected end of xref section")
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "trailer") {
			break
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid xref subsection header: %q", line)
		}
		startObj, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("parse xref start: %w", err)
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("parse xref count: %w", err)
		}
		for i := 0; i < count; i++ {
			entryLine, ok := next()
			if !ok {
				return nil, errors.New("unexpected end of xref section")
			}
			fields := strings.Fields(entryLine)
			if len(fields) < 3 {
				return nil, fmt.Errorf("invalid xref entry: %q", entryLine)
			}
			off, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse xref offset: %w", err)
			}
			gen, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("parse xref gen: %w", err)
			}
			e := entry{kind: entryFree}
			if fields[2][0] == 'n' {
				e = entry{kind: entryInUse, offset: off, gen: gen}
			}
			t.add(startObj+i, e)
		}
	}

	idx := bytes.Index(data[offset:], []byte("trailer"))
	if idx < 0 {
		return nil, errors.New("trailer not found")
	}
	s := scanner.NewBytes(data, scanner.Config{})
	if err := s.SeekTo(offset + int64(idx) + int64(len("trailer"))); err != nil {
		return nil, err
	}
	obj, err := raw.NewObjectReader(s).ReadObject()
	if err != nil {
		return nil, fmt.Errorf("parse trailer: %w", err)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("trailer is %s, not a dictionary", obj.Type())
	}
	return trailer, nil
}

// parseStream reads a cross-reference stream object (PDF 1.5) at offset.
func (r *resolver) parseStream(ctx context.Context, data []byte, offset int64, t *table) (*raw.DictObj, error) {
	s := scanner.NewBytes(data, scanner.Config{})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	_, obj, err := raw.NewObjectReader(s).ReadIndirect(func(d *raw.DictObj) (int64, bool) { return d.Int("Length") })
	if err != nil {
		return nil, fmt.Errorf("xref stream at %d: %w", offset, err)
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("expected xref stream at offset %d, got %s", offset, obj.Type())
	}
	if typ, _ := stream.Dict.Name("Type"); typ != "XRef" {
		return nil, fmt.Errorf("object at offset %d is not an xref stream", offset)
	}
	if err := r.decodeStreamEntries(ctx, stream, t); err != nil {
		return nil, err
	}
	return trailerFromStream(stream.Dict), nil
}

func (r *resolver) decodeStreamEntries(ctx context.Context, stream *raw.StreamObj, t *table) error {
	payload, err := r.cfg.Filters.DecodeStream(ctx, stream)
	if err != nil {
		return fmt.Errorf("decode xref stream: %w", err)
	}
	widths, err := intArray(stream.Dict, "W")
	if err != nil || len(widths) != 3 {
		return fmt.Errorf("xref stream /W invalid")
	}
	rowLen := 0
	for _, w := range widths {
		if w < 0 || w > 8 {
			return fmt.Errorf("xref stream /W width %d out of range", w)
		}
		rowLen += int(w)
	}
	if rowLen == 0 {
		return errors.New("xref stream /W is all zero")
	}
	size, _ := stream.Dict.Int("Size")
	index, err := intArray(stream.Dict, "Index")
	if err != nil {
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return errors.New("xref stream /Index has odd length")
	}

	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for n := int64(0); n < count; n++ {
			if pos+rowLen > len(payload) {
				return fmt.Errorf("xref stream truncated at object %d", first+n)
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1) // default when the first width is zero
			if widths[0] > 0 {
				typ = readField(row[:widths[0]])
			}
			f2 := readField(row[widths[0] : widths[0]+widths[1]])
			f3 := readField(row[widths[0]+widths[1]:])
			num := int(first + n)
			switch typ {
			case 0:
				t.add(num, entry{kind: entryFree})
			case 1:
				t.add(num, entry{kind: entryInUse, offset: f2, gen: int(f3)})
			case 2:
				t.add(num, entry{kind: entryCompressed, stream: int(f2), index: int(f3)})
			}
		}
	}
	return nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func intArray(d *raw.DictObj, key string) ([]int64, error) {
	v, ok := d.GetKey(key)
	if !ok {
		return nil, fmt.Errorf("missing /%s", key)
	}
	arr, ok := v.(*raw.ArrayObj)
	if !ok {
		return nil, fmt.Errorf("/%s is not an array", key)
	}
	out := make([]int64, 0, arr.Len())
	for _, item := range arr.Items {
		n, ok := item.(raw.NumberObj)
		if !ok {
			return nil, fmt.Errorf("/%s holds a non-number", key)
		}
		out = append(out, n.Int())
	}
	return out, nil
}

// trailerKeys are the entries an xref stream dictionary shares with a trailer.
var trailerKeys = []string{"Size", "Root", "Info", "ID", "Encrypt", "Prev"}

func trailerFromStream(d *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for _, k := range trailerKeys {
		if v, ok := d.GetKey(k); ok {
			out.SetKey(k, v)
		}
	}
	return out
}

// mergeTrailer fills keys missing from newer with values from an older
// revision's trailer.
func mergeTrailer(newer, older *raw.DictObj) {
	for _, k := range older.KeyStrings() {
		if k == "Prev" || k == "XRefStm" {
			continue
		}
		if _, ok := newer.GetKey(k); !ok {
			v, _ := older.GetKey(k)
			newer.SetKey(k, v)
		}
	}
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	fields := bytes.Fields(data[idx+len("startxref"):])
	if len(fields) == 0 {
		return 0, errors.New("startxref offset missing")
	}
	offset, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if offset <= 0 || offset >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", offset)
	}
	return offset, nil
}

func validateSize(t *table) error {
	if t.trailer == nil {
		return errors.New("trailer missing")
	}
	size, ok := t.trailer.Int("Size")
	if !ok {
		return errors.New("trailer /Size missing")
	}
	for num, e := range t.entries {
		if e.kind != entryFree && int64(num) >= size {
			return fmt.Errorf("object %d outside trailer /Size %d", num, size)
		}
	}
	return nil
}

func detectLinearized(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("/Linearized"))
}

type entryKind int

const (
	entryFree entryKind = iota
	entryInUse
	entryCompressed
)

type entry struct {
	kind   entryKind
	offset int64
	gen    int
	stream int
	index  int
}

type table struct {
	entries map[int]entry
	kind    string
	trailer *raw.DictObj
}

// add records e unless a newer section already described objNum.
func (t *table) add(objNum int, e entry) {
	if _, ok := t.entries[objNum]; ok {
		return
	}
	t.entries[objNum] = e
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.kind != entryInUse {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.kind != entryCompressed {
		return 0, 0, false
	}
	return e.stream, e.index, true
}

// Objects lists object numbers that are in use or compressed.
func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.kind != entryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string          { return t.kind }
func (t *table) Trailer() *raw.DictObj { return t.trailer }
