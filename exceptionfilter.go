package neodap

import "github.com/Aetherall/neodap-sub014/reactive"

// ExceptionFilter is one entry in an adapter logical type's
// exceptionBreakpointFilters catalog (spec.md §3, §4.8). Registered once at
// Debugger construction via WithExceptionFilter.
type ExceptionFilter struct {
	FilterID    string
	AdapterType string
	Label       string

	enabled *reactive.Signal[bool]
}

func (f *ExceptionFilter) Enabled() bool { return f.enabled.Get() }

// SetEnabled toggles the user preference; every Session with a binding for
// this filter re-pushes setExceptionBreakpoints (spec.md §4.8).
func (f *ExceptionFilter) SetEnabled(d *Debugger, v bool) {
	if f.enabled.Get() == v {
		return
	}
	f.enabled.Set(v)
	for _, e := range d.store.Where("exceptionfilterbinding", "filter_id", f.FilterID).Iter() {
		efb := e.Value.(*ExceptionFilterBinding)
		efb.session.pushExceptionFilters()
	}
}
