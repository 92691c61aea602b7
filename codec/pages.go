package codec

import (
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/observability"
)

// Page is a leaf of the page tree.
type Page struct {
	Index int
	// Ref is the page's own object; zero when the page is a direct
	// dictionary inside /Kids.
	Ref  raw.ObjectRef
	Dict *raw.DictObj
	// Resources is the page's /Resources entry, or the nearest ancestor's
	// when the page has none. It may be a reference.
	Resources raw.Object
}

const maxPageTreeDepth = 256

// Pages walks the page tree from /Root /Pages once and caches the result.
// Nodes already visited are skipped, so a cyclic tree still terminates.
func (d *Document) Pages() []*Page {
	if d.walked {
		return d.pages
	}
	d.walked = true

	root, _ := d.raw.Trailer.GetKey("Root")
	catalog, ok := d.Resolve(root).(*raw.DictObj)
	if !ok {
		d.logger.Warn("document catalog missing, no pages found")
		return nil
	}
	tree, _ := catalog.GetKey("Pages")
	w := &pageWalker{doc: d, visited: make(map[raw.ObjectRef]bool)}
	w.walk(tree, nil, 0)
	d.pages = w.pages
	d.logger.Debug("page tree walked", observability.Int("pages", len(d.pages)))
	return d.pages
}

type pageWalker struct {
	doc     *Document
	visited map[raw.ObjectRef]bool
	pages   []*Page
}

func (w *pageWalker) walk(node raw.Object, inherited raw.Object, depth int) {
	if depth > maxPageTreeDepth {
		w.doc.logger.Warn("page tree too deep", observability.Int("depth", depth))
		return
	}
	var ref raw.ObjectRef
	if r, ok := node.(raw.RefObj); ok {
		if w.visited[r.R] {
			w.doc.logger.Warn("page tree cycle", observability.Stringer("ref", r.R))
			return
		}
		w.visited[r.R] = true
		ref = r.R
	}
	dict, ok := w.doc.Resolve(node).(*raw.DictObj)
	if !ok {
		return
	}

	if res, ok := dict.GetKey("Resources"); ok {
		inherited = res
	}

	kids, hasKids := dict.GetKey("Kids")
	typ, hasType := dict.Name("Type")
	if typ == "Page" || (!hasType && !hasKids) {
		w.pages = append(w.pages, &Page{
			Index:     len(w.pages),
			Ref:       ref,
			Dict:      dict,
			Resources: inherited,
		})
		return
	}

	arr, ok := w.doc.Resolve(kids).(*raw.ArrayObj)
	if !ok {
		return
	}
	for _, kid := range arr.Items {
		w.walk(kid, inherited, depth+1)
	}
}

// ResourceXObjects returns the /XObject sub-dictionary of the page's
// effective resources, or nil when there is none.
func (d *Document) ResourceXObjects(page *Page) *raw.DictObj {
	if page == nil {
		return nil
	}
	res, ok := d.Resolve(page.Resources).(*raw.DictObj)
	if !ok {
		return nil
	}
	xobj, _ := res.GetKey("XObject")
	dict, _ := d.Resolve(xobj).(*raw.DictObj)
	return dict
}
