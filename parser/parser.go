package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/recovery"
	"github.com/wudi/pdfshrink/scanner"
	"github.com/wudi/pdfshrink/security"
	"github.com/wudi/pdfshrink/xref"
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   security.Limits
	Cache    Cache
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.MaxXRefDepth == 0 {
		cfg.XRef.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	return &DocumentParser{cfg: cfg}
}

// Parse reads every live object of the file. Object stream and xref stream
// containers are expanded and left out of the result. Encrypted files are
// returned with Encrypted set and no objects.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	if p.cfg.Limits.MaxParseTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Limits.MaxParseTime)
		defer cancel()
	}
	data := scanner.ReadAll(r)

	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}

	doc := raw.NewDocument()
	doc.Trailer = resolver.Trailer()
	doc.Version = detectHeaderVersion(data)
	doc.Repaired = resolver.Repaired()
	if _, ok := doc.Trailer.GetKey("Encrypt"); ok {
		doc.Encrypted = true
		return doc, nil
	}

	built, err := (&ObjectLoaderBuilder{}).
		WithBytes(data).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithCache(p.cfg.Cache).
		WithRecovery(p.cfg.Recovery).
		Build()
	if err != nil {
		return nil, err
	}
	loader := built.(*objectLoader)

	for _, objNum := range table.Objects() {
		if objNum == 0 {
			continue // free head entry
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, gen, found := table.Lookup(objNum)
		ref := raw.ObjectRef{Num: objNum, Gen: gen}
		if !found {
			ref.Gen = 0 // compressed objects always have generation 0
		}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			lerr := fmt.Errorf("load object %d: %w", objNum, err)
			if loader.tolerate(ctx, lerr, objNum, gen, 0) {
				continue
			}
			return nil, lerr
		}
		doc.Objects[ref] = obj
	}

	if doc.Repaired {
		// A scan only finds top-level headers; members of object streams
		// must be pulled out explicitly.
		p.expandFoundObjectStreams(ctx, loader, doc)
	}
	dropContainers(doc)
	return doc, nil
}

func (p *DocumentParser) expandFoundObjectStreams(ctx context.Context, loader *objectLoader, doc *raw.Document) {
	for _, ref := range doc.Refs() {
		st, ok := doc.Objects[ref].(*raw.StreamObj)
		if !ok {
			continue
		}
		if typ, _ := st.Dict.Name("Type"); typ != "ObjStm" {
			continue
		}
		objs, err := loader.expandObjectStream(ctx, st)
		if err != nil {
			loader.tolerate(ctx, fmt.Errorf("expand object stream %s: %w", ref, err), ref.Num, ref.Gen, 0)
			continue
		}
		for num, obj := range objs {
			member := raw.ObjectRef{Num: num}
			if _, exists := doc.Objects[member]; !exists {
				doc.Objects[member] = obj
			}
		}
	}
}

// dropContainers removes object and xref streams; their content now lives in
// the object table and the trailer.
func dropContainers(doc *raw.Document) {
	for ref, obj := range doc.Objects {
		st, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		switch typ, _ := st.Dict.Name("Type"); typ {
		case "ObjStm", "XRef":
			delete(doc.Objects, ref)
		}
	}
}

func detectHeaderVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return ""
	}
	line := head[idx+len("%PDF-"):]
	end := bytes.IndexAny(line, "\r\n \t%")
	if end >= 0 {
		line = line[:end]
	}
	return string(line)
}
