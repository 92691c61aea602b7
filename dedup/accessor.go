package dedup

import (
	"github.com/wudi/pdfshrink/codec"
	"github.com/wudi/pdfshrink/ir/raw"
)

// Usage is one XObject resource entry that points at an indirect object.
type Usage struct {
	Page *codec.Page
	Dict *raw.DictObj
	Name string
}

// Accessor answers which page resources reference an object. The index is
// built once from every page's XObject mapping; a mapping shared by several
// pages contributes its entries once, attributed to the first such page.
type Accessor struct {
	doc    *codec.Document
	usages map[raw.ObjectRef][]Usage
}

func NewAccessor(doc *codec.Document) *Accessor {
	a := &Accessor{doc: doc, usages: make(map[raw.ObjectRef][]Usage)}
	seen := make(map[*raw.DictObj]bool)
	for _, page := range doc.Pages() {
		dict := doc.ResourceXObjects(page)
		if dict == nil || seen[dict] {
			continue
		}
		seen[dict] = true
		for _, name := range dict.SortedKeys() {
			v, _ := dict.GetKey(name)
			ref, ok := v.(raw.RefObj)
			if !ok {
				continue
			}
			a.usages[ref.R] = append(a.usages[ref.R], Usage{Page: page, Dict: dict, Name: name})
		}
	}
	return a
}

// ResourceDictionaryOf returns the page's XObject mapping, or nil.
func (a *Accessor) ResourceDictionaryOf(page *codec.Page) *raw.DictObj {
	return a.doc.ResourceXObjects(page)
}

// PageContaining returns the first page whose XObject mapping references ref.
func (a *Accessor) PageContaining(ref raw.ObjectRef) *codec.Page {
	u := a.usages[ref]
	if len(u) == 0 {
		return nil
	}
	return u[0].Page
}

// Usages lists every entry referencing ref in page order, then name order.
func (a *Accessor) Usages(ref raw.ObjectRef) []Usage {
	return a.usages[ref]
}

// retarget moves the recorded usages of from over to to after a rewrite.
func (a *Accessor) retarget(from, to raw.ObjectRef) {
	moved := a.usages[from]
	if len(moved) == 0 {
		return
	}
	delete(a.usages, from)
	a.usages[to] = append(a.usages[to], moved...)
}
