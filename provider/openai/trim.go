package openai

import (
	"strings"
	"unicode"
)

// trimWriter forwards streamed fragments so that their concatenation
// equals strings.TrimSpace of the full text: leading whitespace is
// dropped, interior whitespace passes through, and trailing whitespace is
// held back until more visible text arrives. This keeps the streamed
// deltas byte-equal with the reply the non-streaming path returns.
type trimWriter struct {
	emit    func(string) bool
	started bool
	pending strings.Builder
}

func newTrimWriter(emit func(string) bool) *trimWriter {
	return &trimWriter{emit: emit}
}

// Write forwards fragment, returning false when the sink refused it.
func (w *trimWriter) Write(fragment string) bool {
	if fragment == "" {
		return true
	}
	if !w.started {
		fragment = strings.TrimLeftFunc(fragment, unicode.IsSpace)
		if fragment == "" {
			return true
		}
		w.started = true
	}

	visible := strings.TrimRightFunc(fragment, unicode.IsSpace)
	if visible == "" {
		w.pending.WriteString(fragment)
		return true
	}

	out := w.pending.String() + visible
	w.pending.Reset()
	w.pending.WriteString(fragment[len(visible):])
	return w.emit(out)
}
