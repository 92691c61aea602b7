package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/observability"
)

const defaultVersion = "1.7"

var (
	ErrNoRoot       = errors.New("trailer has no live /Root")
	ErrEmptyDoc     = errors.New("document has no objects")
	ErrDuplicateNum = errors.New("object number used with more than one generation")
)

// Config controls serialization of a raw document.
type Config struct {
	// Version overrides the header version. When empty the document's own
	// version is kept, falling back to 1.7.
	Version string
	Logger  observability.Logger
}

type Writer interface {
	Write(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) (int64, error)
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

func New() Writer { return &impl{} }

type impl struct{}

// Write emits doc as a single-revision file with a classic cross-reference
// table. Objects appear in ascending (Num, Gen) order and dictionaries keep
// their key order, so the same document always yields the same bytes.
func (w *impl) Write(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) (int64, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}
	if doc == nil || len(doc.Objects) == 0 {
		return 0, ErrEmptyDoc
	}
	if err := checkRoot(doc); err != nil {
		return 0, err
	}

	refs := doc.Refs()
	for i := 1; i < len(refs); i++ {
		if refs[i].Num == refs[i-1].Num {
			return 0, fmt.Errorf("%w: %d", ErrDuplicateNum, refs[i].Num)
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", pdfVersion(doc, cfg))

	offsets := make(map[int]int64, len(refs))
	gens := make(map[int]int, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		obj := doc.Objects[ref]
		if st, ok := obj.(*raw.StreamObj); ok && st.Dict != nil {
			st.Dict.SetKey("Length", raw.NumberInt(int64(len(st.Data))))
		}
		serialized, err := w.SerializeObject(ref, obj)
		if err != nil {
			return 0, err
		}
		offsets[ref.Num] = int64(buf.Len())
		gens[ref.Num] = ref.Gen
		buf.Write(serialized)
	}

	size := refs[len(refs)-1].Num + 1
	xrefOffset := buf.Len()
	writeXRef(&buf, size, offsets, gens)

	trailer := buildTrailer(doc.Trailer, size, buf.Bytes())
	buf.WriteString("trailer\n")
	buf.Write(serializePrimitive(trailer))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	n, err := out.Write(buf.Bytes())
	if err != nil {
		return int64(n), fmt.Errorf("write output: %w", err)
	}
	logger.Debug("document written",
		observability.Int("objects", len(refs)),
		observability.Int64("bytes", int64(n)))
	return int64(n), nil
}

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	if obj == nil {
		return nil, fmt.Errorf("object %s is nil", ref)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d %d obj\n", ref.Num, ref.Gen)
	b.Write(serializePrimitive(obj))
	b.WriteString("\nendobj\n")
	return b.Bytes(), nil
}

func checkRoot(doc *raw.Document) error {
	if doc.Trailer == nil {
		return ErrNoRoot
	}
	root, ok := doc.Trailer.GetKey("Root")
	if !ok {
		return ErrNoRoot
	}
	ref, ok := root.(raw.RefObj)
	if !ok {
		return ErrNoRoot
	}
	if _, ok := doc.Objects[ref.R]; !ok {
		return fmt.Errorf("%w: %s", ErrNoRoot, ref.R)
	}
	return nil
}

// writeXRef writes one subsection covering 0..size-1. Unused numbers are
// chained into the free list starting at entry 0.
func writeXRef(buf *bytes.Buffer, size int, offsets map[int]int64, gens map[int]int) {
	var free []int
	for i := 1; i < size; i++ {
		if _, ok := offsets[i]; !ok {
			free = append(free, i)
		}
	}
	next := func(i int) int {
		if i < len(free) {
			return free[i]
		}
		return 0
	}

	fmt.Fprintf(buf, "xref\n0 %d\n", size)
	fmt.Fprintf(buf, "%010d 65535 f \n", next(0))
	fi := 0
	for i := 1; i < size; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(buf, "%010d %05d n \n", off, gens[i])
			continue
		}
		fi++
		fmt.Fprintf(buf, "%010d 00001 f \n", next(fi))
	}
}

func pdfVersion(doc *raw.Document, cfg Config) string {
	if cfg.Version != "" {
		return cfg.Version
	}
	if doc.Version != "" {
		return doc.Version
	}
	return defaultVersion
}
