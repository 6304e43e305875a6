package neodap

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/google/go-dap"
)

// SourceHint is the subset of a DAP source descriptor used to correlate and
// update a global Source entity (spec.md §4.6).
type SourceHint struct {
	Path            string
	Name            string
	SourceReference int
	ChecksumHex     string // empty if the adapter sent no checksum
}

func sourceHintFromDAP(ds dap.Source) SourceHint {
	h := SourceHint{Path: ds.Path, Name: ds.Name, SourceReference: ds.SourceReference}
	for _, c := range ds.Checksums {
		if c.Checksum != "" {
			sum := sha1.Sum([]byte(c.Checksum))
			h.ChecksumHex = hex.EncodeToString(sum[:])
			break
		}
	}
	return h
}

// correlationKey implements spec.md §4.6: "path if present; else if a
// checksum is provided, name + ':' + hash(checksum); else name".
func correlationKey(h SourceHint) string {
	if h.Path != "" {
		return h.Path
	}
	if h.ChecksumHex != "" {
		return h.Name + ":" + h.ChecksumHex
	}
	return h.Name
}

// Source is the global, deduplicated source-of-truth for a debuggee file or
// virtual source (spec.md §3, §4.6).
type Source struct {
	debugger *Debugger
	key      string

	path            *reactive.Signal[string]
	name            *reactive.Signal[string]
	sourceReference *reactive.Signal[int] // adapter hint; session-local refs live on SourceBinding
}

func newSource(d *Debugger, key string, hint SourceHint) *Source {
	return &Source{
		debugger:        d,
		key:             key,
		path:            reactive.NewSignal(hint.Path),
		name:            reactive.NewSignal(hint.Name),
		sourceReference: reactive.NewSignal(hint.SourceReference),
	}
}

func (s *Source) Key() string  { return s.key }
func (s *Source) Path() string { return s.path.Get() }
func (s *Source) Name() string { return s.name.Get() }

// IsVirtual reports whether this source must be fetched by content rather
// than by path (spec.md Glossary: "Virtual source").
func (s *Source) IsVirtual() bool { return s.sourceReference.Get() > 0 }

// applyHint refreshes path/name/sourceReference when a later loadedSource
// or stackTrace frame carries richer information for the same key.
func (s *Source) applyHint(hint SourceHint) {
	if hint.Path != "" {
		s.path.Set(hint.Path)
	}
	if hint.Name != "" {
		s.name.Set(hint.Name)
	}
	if hint.SourceReference != 0 {
		s.sourceReference.Set(hint.SourceReference)
	}
}

// dapDescriptor builds the DAP source object used in requests sent for
// session sess: for virtual sources, it substitutes the session-local
// sourceReference from sess's SourceBinding (found == false if sess has
// none, per the breakpoint push algorithm's "skip this session" rule).
func (s *Source) dapDescriptor(sess *Session) (dap.Source, bool) {
	if !s.IsVirtual() {
		return dap.Source{Path: s.Path(), Name: s.Name()}, true
	}
	sb := sess.sourceBinding(s.key)
	if sb == nil {
		return dap.Source{}, false
	}
	return dap.Source{Name: s.Name(), SourceReference: sb.sourceReference}, true
}
