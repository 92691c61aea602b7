package dedup

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/wudi/pdfshrink/codec"
	"github.com/wudi/pdfshrink/ir/raw"
)

func buildPDF(objects map[int]string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	nums := make([]int, 0, len(objects))
	for n := range objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	maxNum := nums[len(nums)-1]
	offsets := make(map[int]int)
	for _, n := range nums {
		offsets[n] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", n, objects[n])
	}
	xrefOffset := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", maxNum+1)
	for n := 1; n <= maxNum; n++ {
		if off, ok := offsets[n]; ok {
			fmt.Fprintf(buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", maxNum+1, xrefOffset)
	return buf.Bytes()
}

func imageStream(payload []byte) string {
	return fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width 10 /Height 10 /BitsPerComponent 8 /ColorSpace /DeviceGray /Length %d >>\nstream\n%s\nendstream", len(payload), payload)
}

func payload(n int, last byte) []byte {
	p := bytes.Repeat([]byte{'x'}, n)
	if n > 0 {
		p[n-1] = last
	}
	return p
}

// pagesPDF builds a catalog (1), a page tree root (2) and one page per
// entry of pages starting at object 3. Each page maps /Im0 to the image
// object number given; images holds the image objects by number.
func pagesPDF(pages []int, images map[int][]byte, extra map[int]string) []byte {
	objs := map[int]string{1: "<< /Type /Catalog /Pages 2 0 R >>"}
	kids := ""
	for i, img := range pages {
		num := 3 + i
		kids += fmt.Sprintf(" %d 0 R", num)
		objs[num] = fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 100 100] /Resources << /XObject << /Im0 %d 0 R >> >> >>", img)
	}
	objs[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s ] /Count %d >>", kids, len(pages))
	for num, data := range images {
		objs[num] = imageStream(data)
	}
	for num, body := range extra {
		objs[num] = body
	}
	return buildPDF(objs)
}

func mustLoad(t *testing.T, data []byte) *codec.Document {
	t.Helper()
	doc, err := codec.Load(context.Background(), data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return doc
}

// pageImage returns the object that the page's /Im0 entry points at.
func pageImage(t *testing.T, doc *codec.Document, page int) (raw.ObjectRef, *raw.StreamObj) {
	t.Helper()
	pages := doc.Pages()
	if page >= len(pages) {
		t.Fatalf("page %d out of range (%d pages)", page, len(pages))
	}
	xobj := doc.ResourceXObjects(pages[page])
	if xobj == nil {
		t.Fatalf("page %d has no XObject mapping", page)
	}
	v, _ := xobj.GetKey("Im0")
	ref, ok := v.(raw.RefObj)
	if !ok {
		t.Fatalf("page %d /Im0 is %T", page, v)
	}
	st, _ := doc.Resolve(ref).(*raw.StreamObj)
	return ref.R, st
}

// danglingRefs lists references in doc that point at missing objects.
func danglingRefs(doc *codec.Document) []raw.ObjectRef {
	var out []raw.ObjectRef
	var walk func(o raw.Object)
	walk = func(o raw.Object) {
		switch v := o.(type) {
		case raw.RefObj:
			if _, ok := doc.Object(v.R); !ok {
				out = append(out, v.R)
			}
		case *raw.ArrayObj:
			for _, it := range v.Items {
				walk(it)
			}
		case *raw.DictObj:
			for _, k := range v.KeyStrings() {
				val, _ := v.GetKey(k)
				walk(val)
			}
		case *raw.StreamObj:
			walk(v.Dict)
		}
	}
	walk(doc.Raw().Trailer)
	for _, e := range doc.Objects() {
		walk(e.Object)
	}
	return out
}

// buildXRefStreamPDF lays out objects like buildPDF but indexes them with an
// uncompressed cross-reference stream (/W [1 4 1]) instead of a table.
func buildXRefStreamPDF(objects map[int]string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	nums := make([]int, 0, len(objects))
	for n := range objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	offsets := make(map[int]int)
	for _, n := range nums {
		offsets[n] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", n, objects[n])
	}
	xrefNum := nums[len(nums)-1] + 1
	offsets[xrefNum] = buf.Len()
	size := xrefNum + 1
	var rows []byte
	for n := 0; n < size; n++ {
		off, ok := offsets[n]
		if !ok {
			rows = append(rows, 0, 0, 0, 0, 0, 0xff)
			continue
		}
		rows = append(rows, 1, byte(off>>24), byte(off>>16), byte(off>>8), byte(off), 0)
	}
	fmt.Fprintf(buf, "%d 0 obj\n<< /Type /XRef /Size %d /Root 1 0 R /W [1 4 1] /Length %d >>\nstream\n", xrefNum, size, len(rows))
	buf.Write(rows)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", offsets[xrefNum])
	return buf.Bytes()
}

// binaryPayload returns n bytes covering every byte value, with a stray
// endstream keyword and CRLF pairs inside.
func binaryPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*131 + i/7)
	}
	copy(p[n/2:], "\r\nendstream\r\n")
	return p
}
