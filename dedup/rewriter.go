package dedup

import (
	"github.com/wudi/pdfshrink/codec"
	"github.com/wudi/pdfshrink/ir/raw"
)

// RewriteResult counts what RewriteGroup changed.
type RewriteResult struct {
	Rewritten    int
	Undiscovered []raw.ObjectRef
}

// RewriteGroup points every known resource entry of the group's redundant
// members at the canonical object. Members no page references are reported
// as undiscovered and left alone.
func RewriteGroup(acc *Accessor, g DuplicateGroup) RewriteResult {
	var res RewriteResult
	for _, ref := range g.Redundant {
		usages := acc.Usages(ref)
		if len(usages) == 0 {
			res.Undiscovered = append(res.Undiscovered, ref)
			continue
		}
		for _, u := range usages {
			v, ok := u.Dict.GetKey(u.Name)
			if !ok {
				continue
			}
			if r, ok := v.(raw.RefObj); !ok || r.R != ref {
				continue
			}
			codec.SetResourceEntry(u.Dict, u.Name, g.Canonical)
			res.Rewritten++
		}
		acc.retarget(ref, g.Canonical)
	}
	return res
}
