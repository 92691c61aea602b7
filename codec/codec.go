// Package codec loads PDF files into a mutable object graph and writes them
// back. It exposes the small set of graph operations needed to retarget
// resource references and drop indirect objects.
package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/observability"
	"github.com/wudi/pdfshrink/parser"
	"github.com/wudi/pdfshrink/recovery"
	"github.com/wudi/pdfshrink/security"
	"github.com/wudi/pdfshrink/writer"
)

var (
	ErrMalformedDocument = errors.New("malformed document")
	ErrEncrypted         = errors.New("encrypted documents are not supported")
	ErrSerialization     = errors.New("serialization failed")
)

type options struct {
	logger   observability.Logger
	tracer   observability.Tracer
	limits   security.Limits
	recovery recovery.Strategy
}

type Option func(*options)

func WithLogger(l observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithTracer(t observability.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func WithLimits(l security.Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithRecovery replaces the default lenient strategy. Pass
// recovery.NewStrictStrategy() to refuse any damaged input.
func WithRecovery(s recovery.Strategy) Option {
	return func(o *options) { o.recovery = s }
}

// Entry is one indirect object of a document.
type Entry struct {
	Ref    raw.ObjectRef
	Object raw.Object
}

// Document is a loaded PDF. It is not safe for concurrent mutation.
type Document struct {
	raw    *raw.Document
	logger observability.Logger
	tracer observability.Tracer
	pages  []*Page
	walked bool
}

// Load parses data into a Document. Failures wrap ErrMalformedDocument;
// encrypted input wraps ErrEncrypted.
func Load(ctx context.Context, data []byte, opts ...Option) (*Document, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = observability.NopLogger{}
	}
	if o.tracer == nil {
		o.tracer = observability.NopTracer()
	}
	if o.recovery == nil {
		o.recovery = recovery.NewLenientStrategy(o.logger)
	}

	ctx, span := o.tracer.StartSpan(ctx, observability.SpanLoad)
	defer span.Finish()
	span.SetTag("bytes", len(data))

	p := parser.NewDocumentParser(parser.Config{
		Recovery: o.recovery,
		Limits:   o.limits,
	})
	doc, err := p.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if doc.Encrypted {
		span.SetError(ErrEncrypted)
		return nil, ErrEncrypted
	}
	if len(doc.Objects) == 0 {
		err := fmt.Errorf("%w: no objects found", ErrMalformedDocument)
		span.SetError(err)
		return nil, err
	}
	if doc.Repaired {
		o.logger.Warn("cross-reference table rebuilt from object headers",
			observability.Int("objects", len(doc.Objects)))
	}
	o.logger.Debug("document loaded",
		observability.String("version", doc.Version),
		observability.Int("objects", len(doc.Objects)))
	return &Document{raw: doc, logger: o.logger, tracer: o.tracer}, nil
}

// Raw exposes the underlying object table.
func (d *Document) Raw() *raw.Document { return d.raw }

// Objects lists every indirect object in ascending (Num, Gen) order.
func (d *Document) Objects() []Entry {
	refs := d.raw.Refs()
	out := make([]Entry, 0, len(refs))
	for _, ref := range refs {
		out = append(out, Entry{Ref: ref, Object: d.raw.Objects[ref]})
	}
	return out
}

// Object returns the indirect object stored under ref.
func (d *Document) Object(ref raw.ObjectRef) (raw.Object, bool) {
	obj, ok := d.raw.Objects[ref]
	return obj, ok
}

// Resolve follows references; it returns nil for missing targets.
func (d *Document) Resolve(obj raw.Object) raw.Object {
	if obj == nil {
		return nil
	}
	return d.raw.Resolve(obj)
}

// DeleteIndirectObject removes ref from the object table. It reports false
// when nothing was stored under ref.
func (d *Document) DeleteIndirectObject(ref raw.ObjectRef) bool {
	if _, ok := d.raw.Objects[ref]; !ok {
		return false
	}
	delete(d.raw.Objects, ref)
	return true
}

// Save serializes the document. Failures wrap ErrSerialization.
func (d *Document) Save() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo implements io.WriterTo.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	ctx, span := d.tracer.StartSpan(context.Background(), observability.SpanSave)
	defer span.Finish()
	n, err := writer.New().Write(ctx, d.raw, w, writer.Config{Logger: d.logger})
	if err != nil {
		span.SetError(err)
		return n, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	span.SetTag("bytes", n)
	return n, nil
}
