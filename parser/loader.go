package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/recovery"
	"github.com/wudi/pdfshrink/scanner"
	"github.com/wudi/pdfshrink/security"
	"github.com/wudi/pdfshrink/xref"
)

var errNotFound = errors.New("object not found in xref")

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	reader    io.ReaderAt
	data      []byte
	xrefTable xref.Table
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithReader(r io.ReaderAt) *ObjectLoaderBuilder {
	b.reader = r
	return b
}

// WithBytes supplies the file content directly, skipping a copy of the reader.
func (b *ObjectLoaderBuilder) WithBytes(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }
func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if (b.reader == nil && b.data == nil) || b.xrefTable == nil {
		return nil, errors.New("reader and xrefTable required")
	}
	data := b.data
	if data == nil {
		data = scanner.ReadAll(b.reader)
	}
	limits := b.limits.WithDefaults()
	return &objectLoader{
		data:      data,
		xrefTable: b.xrefTable,
		limits:    limits,
		cache:     b.cache,
		recovery:  b.recovery,
		pipeline: filters.DefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
		}),
		objstm: make(map[int]map[int]raw.Object),
	}, nil
}

type objectLoader struct {
	data      []byte
	xrefTable xref.Table
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
	pipeline  *filters.Pipeline
	mu        sync.Mutex
	objstm    map[int]map[int]raw.Object
	loading   map[int]bool
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if o.cache != nil {
		if obj, ok := o.cache.Get(ref); ok {
			return obj, nil
		}
	}

	o.mu.Lock()
	obj, err := o.loadOnce(ctx, ref.Num)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		o.cache.Put(ref, obj)
	}
	return obj, nil
}

// loadOnce assumes the caller holds the loader mutex.
func (o *objectLoader) loadOnce(ctx context.Context, objNum int) (raw.Object, error) {
	if o.loading == nil {
		o.loading = make(map[int]bool)
	}
	if o.loading[objNum] {
		return nil, fmt.Errorf("object %d refers to itself while loading", objNum)
	}
	o.loading[objNum] = true
	defer delete(o.loading, objNum)

	offset, gen, found := o.xrefTable.Lookup(objNum)
	if !found {
		if osNum, idx, ok := o.xrefTable.ObjStream(objNum); ok {
			return o.loadFromObjectStream(ctx, objNum, osNum, idx)
		}
		return nil, errNotFound
	}
	return o.loadAtOffset(ctx, objNum, offset, gen)
}

func (o *objectLoader) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
		MaxNestingDepth: o.limits.MaxNestingDepth,
		MaxStreamLength: o.limits.MaxStreamLength,
	}
}

func (o *objectLoader) loadAtOffset(ctx context.Context, objNum int, offset int64, gen int) (raw.Object, error) {
	s := scanner.NewBytes(o.data, o.scannerConfig())
	if rc, ok := s.(interface{ SetRecoveryLocation(recovery.Location) }); ok {
		rc.SetRecoveryLocation(recovery.Location{ObjectNum: objNum, ObjectGen: gen, Component: "parser"})
	}
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := raw.NewObjectReader(s)
	ref, obj, err := tr.ReadIndirect(func(d *raw.DictObj) (int64, bool) {
		return o.resolveStreamLength(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	if ref.Num != objNum {
		mismatch := fmt.Errorf("object header %s found where object %d was expected", ref, objNum)
		if !o.tolerate(ctx, mismatch, objNum, gen, offset) {
			return nil, mismatch
		}
	}
	if st, ok := obj.(*raw.StreamObj); ok {
		// The writer needs a direct byte count; an indirect /Length would
		// otherwise dangle once the length object is renumbered or dropped.
		st.Dict.SetKey("Length", raw.NumberInt(int64(len(st.Data))))
	}
	return obj, nil
}

// resolveStreamLength returns the declared /Length, following a reference.
// A length that cannot be resolved makes the scanner look for endstream.
func (o *objectLoader) resolveStreamLength(ctx context.Context, dict *raw.DictObj) (int64, bool) {
	val, ok := dict.GetKey("Length")
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case raw.NumberObj:
		return v.Int(), true
	case raw.RefObj:
		obj, err := o.loadOnce(ctx, v.R.Num)
		if err != nil {
			return 0, false
		}
		if num, ok := obj.(raw.NumberObj); ok {
			return num.Int(), true
		}
	}
	return 0, false
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, objNum, objStreamNum, idx int) (raw.Object, error) {
	objs, err := o.objectStream(ctx, objStreamNum)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", objStreamNum, err)
	}
	if obj, ok := objs[objNum]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("object %d not found in object stream %d (index %d)", objNum, objStreamNum, idx)
}

// objectStream decodes and caches every member of an object stream.
func (o *objectLoader) objectStream(ctx context.Context, objStreamNum int) (map[int]raw.Object, error) {
	if objs, ok := o.objstm[objStreamNum]; ok {
		return objs, nil
	}
	offset, gen, ok := o.xrefTable.Lookup(objStreamNum)
	if !ok {
		return nil, errors.New("object stream entry missing")
	}
	streamObj, err := o.loadAtOffset(ctx, objStreamNum, offset, gen)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("object stream is not a stream")
	}
	objs, err := o.expandObjectStream(ctx, st)
	if err != nil {
		return nil, err
	}
	o.objstm[objStreamNum] = objs
	return objs, nil
}

func (o *objectLoader) expandObjectStream(ctx context.Context, st *raw.StreamObj) (map[int]raw.Object, error) {
	nObj, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	data, err := o.pipeline.DecodeStream(ctx, st)
	if err != nil {
		return nil, err
	}
	if first < 0 || first > int64(len(data)) {
		return nil, errors.New("object stream /First exceeds length")
	}
	header := data[:first]
	body := data[first:]

	s := scanner.NewBytes(header, o.scannerConfig())
	var pairs []int64
	for int64(len(pairs)/2) < nObj {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenNumber && tok.IsInt {
			pairs = append(pairs, tok.Int)
		}
	}

	objs := make(map[int]raw.Object)
	for i := 0; i+1 < len(pairs); i += 2 {
		num, off := int(pairs[i]), pairs[i+1]
		if off < 0 || off > int64(len(body)) {
			return nil, fmt.Errorf("object %d offset %d outside object stream", num, off)
		}
		s := scanner.NewBytes(body, o.scannerConfig())
		if err := s.SeekTo(off); err != nil {
			return nil, err
		}
		obj, err := raw.NewObjectReader(s).ReadObject()
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", num, err)
		}
		objs[num] = obj
	}
	return objs, nil
}

func (o *objectLoader) tolerate(ctx context.Context, err error, objNum, gen int, offset int64) bool {
	if o.recovery == nil {
		return false
	}
	return recovery.Tolerates(o.recovery.OnError(ctx, err, recovery.Location{
		ByteOffset: offset,
		ObjectNum:  objNum,
		ObjectGen:  gen,
		Component:  "parser",
	}))
}
