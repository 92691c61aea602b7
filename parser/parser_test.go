package parser

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/observability"
	"github.com/wudi/pdfshrink/recovery"
)

// buildClassicPDF writes the numbered object bodies followed by a classic
// xref table. trailerExtra is appended inside the trailer dictionary.
func buildClassicPDF(objects map[int]string, trailerExtra string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	nums := make([]int, 0, len(objects))
	maxNum := 0
	for n := range objects {
		nums = append(nums, n)
		if n > maxNum {
			maxNum = n
		}
	}
	sort.Ints(nums)
	offsets := make(map[int]int)
	for _, n := range nums {
		offsets[n] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", n, objects[n])
	}
	xrefOffset := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= maxNum; n++ {
		if off, ok := offsets[n]; ok {
			fmt.Fprintf(buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R%s >>\nstartxref\n%d\n%%%%EOF\n", maxNum+1, trailerExtra, xrefOffset)
	return buf.Bytes()
}

func TestDocumentParserParsesClassicXRef(t *testing.T) {
	data := buildClassicPDF(map[int]string{
		1: "<< /Type /Catalog /Pages 2 0 R >>",
		2: "<< /Type /Pages /Count 0 /Kids [] >>",
	}, "")
	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if doc.Trailer == nil {
		t.Fatalf("trailer not captured")
	}
	if got := doc.Version; got != "1.7" {
		t.Fatalf("expected version 1.7, got %q", got)
	}
	if len(doc.Objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(doc.Objects))
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 1, Gen: 0}]; !ok {
		t.Fatalf("catalog missing")
	}
}

func TestDocumentParserResolvesIndirectLength(t *testing.T) {
	payload := "BT (endstream inside) Tj ET"
	data := buildClassicPDF(map[int]string{
		1: "<< /Type /Catalog >>",
		2: fmt.Sprintf("<< /Length 3 0 R >>\nstream\n%s\nendstream", payload),
		3: fmt.Sprintf("%d", len(payload)),
	}, "")
	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	st, ok := doc.Objects[raw.ObjectRef{Num: 2}].(*raw.StreamObj)
	if !ok {
		t.Fatalf("expected stream, got %T", doc.Objects[raw.ObjectRef{Num: 2}])
	}
	if string(st.Data) != payload {
		t.Fatalf("payload = %q", st.Data)
	}
	if l, ok := st.Dict.GetKey("Length"); !ok || l != raw.NumberInt(int64(len(payload))) {
		t.Fatalf("Length should be rewritten to a direct integer, got %v", l)
	}
}

func TestDocumentParserFollowsPrevChain(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 1 >>\nendobj\n")
	firstXref := buf.Len()
	fmt.Fprintf(buf, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	fmt.Fprintf(buf, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", firstXref)

	newOff2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 2 >>\nendobj\n")
	off3 := buf.Len()
	buf.WriteString("3 0 obj\n(added)\nendobj\n")
	secondXref := buf.Len()
	fmt.Fprintf(buf, "xref\n2 2\n%010d 00000 n \n%010d 00000 n \n", newOff2, off3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", firstXref, secondXref)

	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 3}]; !ok {
		t.Fatalf("incremental object missing")
	}
	pages := doc.Objects[raw.ObjectRef{Num: 2}].(*raw.DictObj)
	if n, _ := pages.Int("Count"); n != 2 {
		t.Fatalf("expected Count 2 after update, got %d", n)
	}
	if _, ok := doc.Trailer.GetKey("Prev"); !ok {
		t.Fatalf("Prev not propagated on final trailer")
	}
}

func buildObjStmPDF(t *testing.T) []byte {
	t.Helper()
	members := []string{"<< /Type /Pages /Count 0 /Kids [] >>", "42"}
	var header, body bytes.Buffer
	for i, m := range members {
		fmt.Fprintf(&header, "%d %d ", i+2, body.Len())
		body.WriteString(m)
		body.WriteString(" ")
	}
	decoded := append(header.Bytes(), body.Bytes()...)
	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	w.Write(decoded)
	w.Close()

	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off4 := buf.Len()
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /ObjStm /N 2 /First %d /Filter /FlateDecode /Length %d >>\nstream\n", header.Len(), z.Len())
	buf.Write(z.Bytes())
	buf.WriteString("\nendstream\nendobj\n")

	off5 := buf.Len()
	rows := [][3]int{
		{0, 0, 0},
		{1, off1, 0},
		{2, 4, 0},
		{2, 4, 1},
		{1, off4, 0},
		{1, off5, 0},
	}
	var entries []byte
	for _, r := range rows {
		entries = append(entries, byte(r[0]), byte(r[1]>>8), byte(r[1]), byte(r[2]))
	}
	fmt.Fprintf(buf, "5 0 obj\n<< /Type /XRef /Size 6 /Root 1 0 R /W [1 2 1] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", off5)
	return buf.Bytes()
}

func TestDocumentParserExpandsObjectStreams(t *testing.T) {
	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(buildObjStmPDF(t)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := []raw.ObjectRef{{Num: 1}, {Num: 2}, {Num: 3}}
	got := doc.Refs()
	if len(got) != len(want) {
		t.Fatalf("refs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("refs = %v, want %v", got, want)
		}
	}
	if doc.Objects[raw.ObjectRef{Num: 3}] != raw.NumberInt(42) {
		t.Fatalf("object 3 = %v", doc.Objects[raw.ObjectRef{Num: 3}])
	}
	if _, ok := doc.Trailer.GetKey("W"); ok {
		t.Fatalf("trailer should not carry xref stream keys")
	}
}

func TestDocumentParserFlagsEncryption(t *testing.T) {
	data := buildClassicPDF(map[int]string{
		1: "<< /Type /Catalog >>",
		2: "<< /Filter /Standard /V 2 /R 3 >>",
	}, " /Encrypt 2 0 R")
	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !doc.Encrypted {
		t.Fatalf("expected Encrypted flag")
	}
	if len(doc.Objects) != 0 {
		t.Fatalf("encrypted documents should not be loaded")
	}
}

func TestDocumentParserRepairsBrokenXRef(t *testing.T) {
	data := buildClassicPDF(map[int]string{
		1: "<< /Type /Catalog /Pages 2 0 R >>",
		2: "<< /Type /Pages /Count 0 /Kids [] >>",
	}, "")
	// Point startxref into the middle of an object.
	idx := bytes.LastIndex(data, []byte("startxref"))
	broken := append(append([]byte{}, data[:idx]...), []byte("startxref\n12\n%%EOF\n")...)

	if _, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(broken)); err == nil {
		t.Fatalf("strict parse should fail on a broken xref")
	}
	rec := recovery.NewLenientStrategy(observability.NopLogger{})
	doc, err := NewDocumentParser(Config{Recovery: rec}).Parse(context.Background(), bytes.NewReader(broken))
	if err != nil {
		t.Fatalf("lenient parse failed: %v", err)
	}
	if !doc.Repaired || len(doc.Objects) != 2 {
		t.Fatalf("expected repaired doc with 2 objects, got repaired=%v n=%d", doc.Repaired, len(doc.Objects))
	}
	if len(rec.Errors) == 0 {
		t.Fatalf("lenient strategy should record the xref failure")
	}
}

func TestDocumentParserSkipsUnloadableObjectWhenLenient(t *testing.T) {
	data := buildClassicPDF(map[int]string{
		1: "<< /Type /Catalog >>",
		2: "<< /A 1 >>",
	}, "")
	// Corrupt the header of object 2 so its xref entry points at garbage.
	data = bytes.Replace(data, []byte("2 0 obj"), []byte("] ] ]  "), 1)

	if _, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(data)); err == nil {
		t.Fatalf("strict parse should fail")
	}
	rec := recovery.NewLenientStrategy(nil)
	doc, err := NewDocumentParser(Config{Recovery: rec}).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("lenient parse failed: %v", err)
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 2}]; ok {
		t.Fatalf("corrupt object should have been skipped")
	}
}

func TestDetectHeaderVersion(t *testing.T) {
	cases := map[string]string{
		"%PDF-1.4\n":        "1.4",
		"%PDF-2.0\r\n%\xe2": "2.0",
		"junk\n%PDF-1.6 \n": "1.6",
		"no header":         "",
	}
	for in, want := range cases {
		if got := detectHeaderVersion([]byte(in)); got != want {
			t.Errorf("detectHeaderVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
