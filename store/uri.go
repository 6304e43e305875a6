package store

import "strings"

// URI is the store's addressing scheme: a stable, path-like identifier such
// as "dap:session:a1b2/thread:3/stack:7/frame:42/scope:Locals/var:x.y"
// (spec.md §3). URIs are opaque at the transport and parsed once at API
// ingress (spec.md §9 "URI parsing and addressing").
type URI string

// Segment is one "type:id" component of a parsed URI.
type Segment struct {
	Type string
	ID   string
}

// Parse tokenizes a URI into its ordered segments via a small hand-rolled
// scanner. The grammar is six productions deep (session/thread/stack/frame/
// scope/var, plus output/eval/binding/source/source-binding/filter-binding
// variants); no general parser-generator or combinator library in the
// corpus earns its weight over a 20-line split-based scanner — see
// DESIGN.md.
func Parse(u URI) []Segment {
	s := string(u)
	s = strings.TrimPrefix(s, "dap:")
	parts := strings.Split(s, "/")
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		idx := strings.IndexByte(p, ':')
		if idx < 0 {
			segs = append(segs, Segment{Type: p})
			continue
		}
		segs = append(segs, Segment{Type: p[:idx], ID: p[idx+1:]})
	}
	return segs
}

// Child builds a child URI by appending a "type:id" segment to parent.
func Child(parent URI, typ, id string) URI {
	if parent == "" {
		return URI("dap:" + typ + ":" + id)
	}
	return parent + URI("/"+typ+":"+id)
}

// Last returns the final segment of the URI, or the zero Segment if empty.
func Last(u URI) Segment {
	segs := Parse(u)
	if len(segs) == 0 {
		return Segment{}
	}
	return segs[len(segs)-1]
}
