package neodap

import (
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

func TestCorrelationKeyPrefersPathThenChecksumThenName(t *testing.T) {
	require.Equal(t, "/tmp/a.js", correlationKey(SourceHint{Path: "/tmp/a.js", Name: "a.js"}))

	withChecksum := sourceHintFromDAP(dap.Source{
		Name:      "<node_internals>/timers.js",
		Checksums: []dap.Checksum{{Algorithm: "sha1", Checksum: "deadbeef"}},
	})
	require.Empty(t, withChecksum.Path)
	require.NotEmpty(t, withChecksum.ChecksumHex)
	require.Equal(t, "<node_internals>/timers.js:"+withChecksum.ChecksumHex, correlationKey(withChecksum))

	nameOnly := SourceHint{Name: "anonymous"}
	require.Equal(t, "anonymous", correlationKey(nameOnly))
}

func TestDebuggerSourceDedupesByCorrelationKey(t *testing.T) {
	d := New()
	a := d.Source("/repo/script.js")
	b := d.Source("/repo/script.js")
	require.Same(t, a, b, "same path must resolve to the same Source entity")

	other := d.Source("/repo/other.js")
	require.NotSame(t, a, other)
}

func TestSourceApplyHintRefreshesPathAndName(t *testing.T) {
	d := New()
	src := d.resolveSource("x:abc", SourceHint{Name: "x"})
	require.Empty(t, src.Path())

	src.applyHint(SourceHint{Path: "/resolved/x.js"})
	require.Equal(t, "/resolved/x.js", src.Path())
	require.False(t, src.IsVirtual())

	src.applyHint(SourceHint{SourceReference: 7})
	require.True(t, src.IsVirtual())
}

func TestSourceDapDescriptorSkipsSessionWithoutBinding(t *testing.T) {
	d := New()
	virtual := d.resolveSource("internal:hash", SourceHint{Name: "internal", SourceReference: 3})

	cfg := SessionConfig{AdapterType: "node", Adapter: &stubAdapter{}}
	sess, err := newSession(d, nil, cfg, d.scope.Child())
	require.NoError(t, err)

	_, ok := virtual.dapDescriptor(sess)
	require.False(t, ok, "a virtual source with no SourceBinding for this session must be skipped")

	sb := newSourceBinding(sess, virtual, 99, nil)
	sess.sourceBindingsMu.Lock()
	sess.sourceBindingsBy[virtual.key] = sb
	sess.sourceBindingsMu.Unlock()

	descriptor, ok := virtual.dapDescriptor(sess)
	require.True(t, ok)
	require.Equal(t, 99, descriptor.SourceReference)
}
