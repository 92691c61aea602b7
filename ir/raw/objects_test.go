package raw

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDictPreservesInsertionOrder(t *testing.T) {
	d := Dict()
	d.SetKey("Type", NameLiteral("XObject"))
	d.SetKey("Subtype", NameLiteral("Image"))
	d.SetKey("Width", NumberInt(10))
	d.SetKey("Type", NameLiteral("XObject")) // overwrite keeps position

	if diff := cmp.Diff([]string{"Type", "Subtype", "Width"}, d.KeyStrings()); diff != "" {
		t.Fatalf("key order mismatch (-want +got):\n%s", diff)
	}

	d.Delete("Subtype")
	if diff := cmp.Diff([]string{"Type", "Width"}, d.KeyStrings()); diff != "" {
		t.Fatalf("key order after delete (-want +got):\n%s", diff)
	}
	if _, ok := d.GetKey("Subtype"); ok {
		t.Fatalf("deleted key still present")
	}
	if diff := cmp.Diff([]string{"Type", "Width"}, d.SortedKeys()); diff != "" {
		t.Fatalf("sorted keys (-want +got):\n%s", diff)
	}
}

func TestDictTypedAccessors(t *testing.T) {
	d := Dict()
	d.SetKey("Subtype", NameLiteral("Image"))
	d.SetKey("Length", NumberInt(42))

	if v, ok := d.Name("Subtype"); !ok || v != "Image" {
		t.Fatalf("Name(Subtype) = %q, %v", v, ok)
	}
	if v, ok := d.Int("Length"); !ok || v != 42 {
		t.Fatalf("Int(Length) = %d, %v", v, ok)
	}
	if _, ok := d.Name("Length"); ok {
		t.Fatalf("Name on a number should fail")
	}
	var nilDict *DictObj
	if _, ok := nilDict.GetKey("X"); ok {
		t.Fatalf("nil dict lookup should fail")
	}
}

func TestDocumentRefsSorted(t *testing.T) {
	doc := NewDocument()
	doc.Objects[ObjectRef{Num: 10}] = NullObj{}
	doc.Objects[ObjectRef{Num: 2, Gen: 1}] = NullObj{}
	doc.Objects[ObjectRef{Num: 2}] = NullObj{}
	doc.Objects[ObjectRef{Num: 7}] = NullObj{}

	want := []ObjectRef{{Num: 2}, {Num: 2, Gen: 1}, {Num: 7}, {Num: 10}}
	if diff := cmp.Diff(want, doc.Refs()); diff != "" {
		t.Fatalf("Refs mismatch (-want +got):\n%s", diff)
	}
	if got := doc.MaxObjectNum(); got != 10 {
		t.Fatalf("MaxObjectNum = %d, want 10", got)
	}
}

func TestDocumentResolve(t *testing.T) {
	doc := NewDocument()
	doc.Objects[ObjectRef{Num: 1}] = Ref(2, 0)
	doc.Objects[ObjectRef{Num: 2}] = NumberInt(5)
	doc.Objects[ObjectRef{Num: 3}] = Ref(4, 0)
	doc.Objects[ObjectRef{Num: 4}] = Ref(3, 0)

	if got := doc.Resolve(Ref(1, 0)); got != NumberInt(5) {
		t.Fatalf("Resolve chain = %v", got)
	}
	if got := doc.Resolve(Ref(9, 0)); got != nil {
		t.Fatalf("missing ref should resolve to nil, got %v", got)
	}
	if got := doc.Resolve(Ref(3, 0)); got != nil {
		t.Fatalf("cyclic ref should resolve to nil, got %v", got)
	}
	if got := doc.Resolve(NameLiteral("A")); got != NameLiteral("A") {
		t.Fatalf("direct object should resolve to itself")
	}
}
