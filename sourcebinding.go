package neodap

import (
	"context"

	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/go-dap"
)

// SourceBinding is the per-session materialization of a global Source: it
// holds the session-local sourceReference the adapter expects back for
// virtual-source content requests (spec.md §3, §4.6).
type SourceBinding struct {
	source *Source
	session *Session
	uri    store.URI

	sourceReference int
	adapterData     any
}

func newSourceBinding(sess *Session, src *Source, sourceReference int, adapterData any) *SourceBinding {
	uri := store.Child(sess.uri, "sourcebinding", src.key)
	sb := &SourceBinding{
		source:          src,
		session:         sess,
		uri:             uri,
		sourceReference: sourceReference,
		adapterData:     adapterData,
	}
	sess.debugger.store.Add(uri, "sourcebinding", sb, sess.scope.Child(),
		store.Edge{From: sess.uri, Label: "source_bindings"})
	sess.debugger.store.SetField(uri, "source_key", src.key)
	sess.debugger.store.SetField(uri, "session_id", sess.id)
	return sb
}

func (sb *SourceBinding) URI() store.URI          { return sb.uri }
func (sb *SourceBinding) Source() *Source         { return sb.source }
func (sb *SourceBinding) SourceReference() int    { return sb.sourceReference }
func (sb *SourceBinding) AdapterData() any        { return sb.adapterData }

func (sb *SourceBinding) dispose() {
	sb.session.debugger.store.Dispose(sb.uri)
}

// Content issues source, fetching a virtual source's text by the
// session-local sourceReference this binding holds (spec.md §4.6: a
// virtual source's content is only reachable this way, never by path).
func (sb *SourceBinding) Content(ctx context.Context) (content, mimeType string, err error) {
	resp, err := sb.session.client.Request(ctx, "source", map[string]any{
		"source":          dap.Source{Name: sb.source.Name(), SourceReference: sb.sourceReference},
		"sourceReference": sb.sourceReference,
	})
	if err != nil {
		return "", "", err
	}
	body := resp.(*dap.SourceResponse).Body
	return body.Content, body.MimeType, nil
}
