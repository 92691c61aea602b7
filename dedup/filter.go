package dedup

import (
	"github.com/wudi/pdfshrink/codec"
	"github.com/wudi/pdfshrink/ir/raw"
)

type Subtype int

const (
	SubtypeOther Subtype = iota
	SubtypeImage
)

func (s Subtype) String() string {
	if s == SubtypeImage {
		return "Image"
	}
	return "Other"
}

// ImageObject is an image XObject stream eligible for deduplication.
type ImageObject struct {
	Ref        raw.ObjectRef
	ByteLength int
	Stream     *raw.StreamObj
	Subtype    Subtype
}

// RawContent returns the stored, still encoded, payload.
func (o ImageObject) RawContent() []byte {
	if o.Stream == nil {
		return nil
	}
	return o.Stream.Data
}

// FilterImages selects image streams of at least minBytes, in the codec's
// enumeration order.
func FilterImages(doc *codec.Document, minBytes int) []ImageObject {
	var out []ImageObject
	for _, e := range doc.Objects() {
		if !codec.IsStream(e.Object) {
			continue
		}
		if sub, ok := codec.StreamSubtype(e.Object); !ok || sub != "Image" {
			continue
		}
		n := codec.StreamByteLength(e.Object)
		if n < minBytes {
			continue
		}
		out = append(out, ImageObject{
			Ref:        e.Ref,
			ByteLength: n,
			Stream:     e.Object.(*raw.StreamObj),
			Subtype:    SubtypeImage,
		})
	}
	return out
}
