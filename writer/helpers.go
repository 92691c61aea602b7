package writer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/wudi/pdfshrink/ir/raw"
)

// Serialize renders a direct object in file syntax. Streams include their
// dictionary and payload. The output is stable for equal inputs, which makes
// it usable as a content key.
func Serialize(o raw.Object) []byte { return serializePrimitive(o) }

func serializePrimitive(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return []byte("/" + pdfNameLiteral(v.Value()))
	case raw.NumberObj:
		if v.IsInteger() {
			return []byte(strconv.FormatInt(v.Int(), 10))
		}
		return []byte(formatReal(v.Float()))
	case raw.BoolObj:
		if v.V {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		if v.IsHex() {
			dst := make([]byte, hex.EncodedLen(len(v.Value())))
			hex.Encode(dst, v.Value())
			return []byte("<" + strings.ToUpper(string(dst)) + ">")
		}
		return escapeLiteralString(v.Value())
	case *raw.ArrayObj:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(serializePrimitive(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case *raw.DictObj:
		var b bytes.Buffer
		b.WriteString("<<")
		for _, k := range v.KeyStrings() {
			val, _ := v.GetKey(k)
			b.WriteString("/" + pdfNameLiteral(k) + " ")
			b.Write(serializePrimitive(val))
		}
		b.WriteString(">>")
		return b.Bytes()
	case *raw.StreamObj:
		var b bytes.Buffer
		if v.Dict != nil {
			b.Write(serializePrimitive(v.Dict))
		} else {
			b.WriteString("<<>>")
		}
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.Ref().Num, v.Ref().Gen))
	default:
		return []byte("null")
	}
}

// formatReal never uses exponent notation, which PDF does not allow.
func formatReal(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if s == "-0" {
		return "0"
	}
	return s
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

// pdfNameLiteral escapes every byte outside the regular character set,
// including '#', so that the scanner decodes the same name back.
func pdfNameLiteral(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > 0x20 && ch < 0x7F && !isDelimiter(ch) && ch != '#' {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}

func isDelimiter(ch byte) bool {
	switch ch {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// trailerDropKeys belong to the revision being replaced.
var trailerDropKeys = map[string]bool{
	"Size":    true,
	"Prev":    true,
	"XRefStm": true,
	"Encrypt": true,
}

// buildTrailer copies src without revision bookkeeping, sets /Size, and adds
// an /ID derived from body when src has none.
func buildTrailer(src *raw.DictObj, size int, body []byte) *raw.DictObj {
	trailer := raw.Dict()
	trailer.SetKey("Size", raw.NumberInt(int64(size)))
	if src != nil {
		for _, k := range src.KeyStrings() {
			if trailerDropKeys[k] {
				continue
			}
			v, _ := src.GetKey(k)
			trailer.SetKey(k, v)
		}
	}
	if _, ok := trailer.GetKey("ID"); !ok {
		id := deterministicID(body)
		trailer.SetKey("ID", raw.NewArray(raw.HexStr(id), raw.HexStr(id)))
	}
	return trailer
}

func deterministicID(body []byte) []byte {
	sum := sha256.Sum256(body)
	return sum[:16]
}
