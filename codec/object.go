package codec

import (
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/writer"
)

func IsStream(obj raw.Object) bool {
	_, ok := obj.(*raw.StreamObj)
	return ok
}

// StreamByteLength is the size of the stored (still encoded) payload, or 0
// for non-streams.
func StreamByteLength(obj raw.Object) int {
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return 0
	}
	return len(st.Data)
}

// StreamSubtype returns the /Subtype name of a stream dictionary.
func StreamSubtype(obj raw.Object) (string, bool) {
	st, ok := obj.(*raw.StreamObj)
	if !ok || st.Dict == nil {
		return "", false
	}
	return st.Dict.Name("Subtype")
}

// SerializedForm renders obj as it would appear in the file body. Two
// objects with equal forms are interchangeable. The form is taken after
// load, so an indirect stream /Length has already been replaced by the
// direct byte count and does not tell two streams apart.
func SerializedForm(obj raw.Object) []byte {
	return writer.Serialize(obj)
}

// SetResourceEntry points name in dict at ref, keeping the key position.
func SetResourceEntry(dict *raw.DictObj, name string, ref raw.ObjectRef) {
	if dict == nil {
		return
	}
	dict.SetKey(name, raw.RefTo(ref))
}
