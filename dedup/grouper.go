package dedup

import (
	"bytes"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfshrink/codec"
	"github.com/wudi/pdfshrink/ir/raw"
)

// DuplicateGroup holds objects with identical serialized forms. Canonical is
// the first one seen.
type DuplicateGroup struct {
	Canonical  raw.ObjectRef
	Redundant  []raw.ObjectRef
	ByteLength int
}

type bucket struct {
	form  []byte
	group *DuplicateGroup
}

// GroupDuplicates partitions images by exact serialized form in one pass and
// returns the groups that have at least one redundant member, ordered by
// canonical reference. The digest only narrows the search; membership is
// decided by byte comparison.
func GroupDuplicates(images []ImageObject) []DuplicateGroup {
	index := make(map[[blake2b.Size256]byte][]*bucket)
	var order []*DuplicateGroup
	for _, img := range images {
		form := codec.SerializedForm(img.Stream)
		sum := blake2b.Sum256(form)

		var hit *bucket
		for _, b := range index[sum] {
			if bytes.Equal(b.form, form) {
				hit = b
				break
			}
		}
		if hit != nil {
			hit.group.Redundant = append(hit.group.Redundant, img.Ref)
			continue
		}
		g := &DuplicateGroup{Canonical: img.Ref, ByteLength: img.ByteLength}
		index[sum] = append(index[sum], &bucket{form: form, group: g})
		order = append(order, g)
	}

	var out []DuplicateGroup
	for _, g := range order {
		if len(g.Redundant) > 0 {
			out = append(out, *g)
		}
	}
	return out
}
