package dedup

import (
	"fmt"
	"strings"

	"github.com/wudi/pdfshrink/codec"
	"github.com/wudi/pdfshrink/ir/raw"
)

// PrunePolicy decides whether redundant members that may still be
// referenced are deleted.
type PrunePolicy int

const (
	// PruneSafe keeps a group's redundant members when anything outside
	// the group still references one of them.
	PruneSafe PrunePolicy = iota
	// PruneAlways deletes every redundant member, even if a reference the
	// rewriter could not reach is left dangling.
	PruneAlways
)

func (p PrunePolicy) String() string {
	switch p {
	case PruneSafe:
		return "safe"
	case PruneAlways:
		return "always"
	default:
		return fmt.Sprintf("PrunePolicy(%d)", int(p))
	}
}

func ParsePrunePolicy(s string) (PrunePolicy, error) {
	switch strings.ToLower(s) {
	case "safe", "":
		return PruneSafe, nil
	case "always":
		return PruneAlways, nil
	}
	return 0, fmt.Errorf("%w: unknown prune policy %q", ErrInvalidConfig, s)
}

// PruneResult records the outcome for one group.
type PruneResult struct {
	Pruned  []raw.ObjectRef
	Absent  []raw.ObjectRef
	Skipped bool
}

// planPrune returns the indexes of groups whose members must be kept under
// the safe policy. Skipping a group keeps its objects alive, and their own
// references then count too, so the scan repeats until nothing changes.
func planPrune(doc *codec.Document, groups []DuplicateGroup, policy PrunePolicy) map[int]bool {
	skipped := make(map[int]bool)
	if policy == PruneAlways {
		return skipped
	}
	for {
		targets := make(map[raw.ObjectRef]bool)
		for i, g := range groups {
			if skipped[i] {
				continue
			}
			for _, ref := range g.Redundant {
				targets[ref] = true
			}
		}
		if len(targets) == 0 {
			return skipped
		}
		residual := referencedFrom(doc.Raw(), targets)
		changed := false
		for i, g := range groups {
			if skipped[i] {
				continue
			}
			for _, ref := range g.Redundant {
				if residual[ref] {
					skipped[i] = true
					changed = true
					break
				}
			}
		}
		if !changed {
			return skipped
		}
	}
}

// PruneGroup deletes the group's redundant members unless skip is set.
func PruneGroup(doc *codec.Document, g DuplicateGroup, skip bool) PruneResult {
	if skip {
		return PruneResult{Skipped: true}
	}
	var res PruneResult
	for _, ref := range g.Redundant {
		if doc.DeleteIndirectObject(ref) {
			res.Pruned = append(res.Pruned, ref)
		} else {
			res.Absent = append(res.Absent, ref)
		}
	}
	return res
}

// referencedFrom collects the targets still referenced by the trailer or by
// any object that is not itself a target.
func referencedFrom(doc *raw.Document, targets map[raw.ObjectRef]bool) map[raw.ObjectRef]bool {
	found := make(map[raw.ObjectRef]bool)
	if doc.Trailer != nil {
		collectRefs(doc.Trailer, targets, found)
	}
	for ref, obj := range doc.Objects {
		if targets[ref] {
			continue
		}
		collectRefs(obj, targets, found)
	}
	return found
}

func collectRefs(obj raw.Object, targets, found map[raw.ObjectRef]bool) {
	switch t := obj.(type) {
	case raw.RefObj:
		if targets[t.R] {
			found[t.R] = true
		}
	case *raw.ArrayObj:
		for _, v := range t.Items {
			collectRefs(v, targets, found)
		}
	case *raw.DictObj:
		for _, k := range t.KeyStrings() {
			v, _ := t.GetKey(k)
			collectRefs(v, targets, found)
		}
	case *raw.StreamObj:
		if t.Dict != nil {
			collectRefs(t.Dict, targets, found)
		}
	}
}
