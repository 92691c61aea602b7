package xref

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/scanner"
)

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries.
func repair(ctx context.Context, data []byte) (*table, error) {
	s := scanner.NewBytes(data, scanner.Config{})
	tr := raw.NewObjectReader(s)
	entries := make(map[int]entry)
	var lastTrailer *raw.DictObj

	for i := 0; ; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		before := s.Position()
		tok, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Skip invalid tokens during repair scan.
			if s.Position() <= before {
				if s.SeekTo(before+1) != nil {
					break
				}
			}
			continue
		}

		if tok.Type == scanner.TokenNumber && tok.IsInt {
			tokGen, err := tr.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				continue
			}
			if tokGen.Type == scanner.TokenNumber && tokGen.IsInt {
				tokObj, err := tr.Next()
				if err != nil {
					if errors.Is(err, io.EOF) {
						break
					}
					continue
				}
				if tokObj.Type == scanner.TokenKeyword && tokObj.Str == "obj" {
					// Later definitions belong to newer revisions.
					entries[int(tok.Int)] = entry{kind: entryInUse, offset: tok.Pos, gen: int(tokGen.Int)}
					continue
				}
			}
			// Backtrack so "999 1 0 obj" still finds object 1.
			if err := tr.SeekTo(tokGen.Pos); err != nil {
				return nil, err
			}
			continue
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			if obj, err := tr.ReadObject(); err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}

	t := &table{entries: entries, kind: "repair"}
	if lastTrailer == nil {
		lastTrailer = recoverTrailer(data, t)
	}
	lastTrailer.SetKey("Size", raw.NumberInt(int64(maxObjectNum(entries)+1)))
	t.trailer = lastTrailer
	return t, nil
}

// recoverTrailer builds a trailer for files that never had one, typically
// because they used xref streams. The newest xref stream dictionary wins;
// otherwise the last catalog found becomes /Root.
func recoverTrailer(data []byte, t *table) *raw.DictObj {
	trailer := raw.Dict()
	nums := t.Objects()
	sort.Slice(nums, func(i, j int) bool { return t.entries[nums[i]].offset > t.entries[nums[j]].offset })

	var catalog *raw.ObjectRef
	for _, num := range nums {
		e := t.entries[num]
		s := scanner.NewBytes(data, scanner.Config{})
		if s.SeekTo(e.offset) != nil {
			continue
		}
		ref, obj, err := raw.NewObjectReader(s).ReadIndirect(nil)
		if err != nil {
			continue
		}
		var dict *raw.DictObj
		switch o := obj.(type) {
		case *raw.StreamObj:
			dict = o.Dict
		case *raw.DictObj:
			dict = o
		default:
			continue
		}
		typ, _ := dict.Name("Type")
		if typ == "XRef" {
			return trailerFromStream(dict)
		}
		if typ == "Catalog" && catalog == nil {
			r := ref
			catalog = &r
		}
	}
	if catalog != nil {
		trailer.SetKey("Root", raw.RefTo(*catalog))
	}
	return trailer
}

func maxObjectNum(entries map[int]entry) int {
	max := 0
	for n := range entries {
		if n > max {
			max = n
		}
	}
	return max
}
