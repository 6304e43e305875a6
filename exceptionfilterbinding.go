package neodap

import (
	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
)

// ExceptionFilterBinding is the per-session materialization of an
// ExceptionFilter (spec.md §3, §4.8).
type ExceptionFilterBinding struct {
	filter  *ExceptionFilter
	session *Session
	uri     store.URI

	verified *reactive.Signal[bool]
	message  *reactive.Signal[string]
	hit      *reactive.Signal[bool]
	dapID    *reactive.Signal[string]
}

func newExceptionFilterBinding(sess *Session, f *ExceptionFilter) *ExceptionFilterBinding {
	uri := store.Child(sess.uri, "excfilterbinding", f.FilterID)
	efb := &ExceptionFilterBinding{
		filter:   f,
		session:  sess,
		uri:      uri,
		verified: reactive.NewSignal(false),
		message:  reactive.NewSignal(""),
		hit:      reactive.NewSignal(false),
		dapID:    reactive.NewSignal(""),
	}
	sess.debugger.store.Add(uri, "exceptionfilterbinding", efb, sess.scope.Child(),
		store.Edge{From: sess.uri, Label: "exception_filter_bindings"})
	sess.debugger.store.SetField(uri, "filter_id", f.FilterID)
	return efb
}

func (e *ExceptionFilterBinding) URI() store.URI            { return e.uri }
func (e *ExceptionFilterBinding) Filter() *ExceptionFilter  { return e.filter }
func (e *ExceptionFilterBinding) Verified() bool            { return e.verified.Get() }
func (e *ExceptionFilterBinding) Message() string           { return e.message.Get() }

func (e *ExceptionFilterBinding) applyAdapterResult(verified bool, message string) {
	e.verified.Set(verified)
	e.message.Set(message)
}
