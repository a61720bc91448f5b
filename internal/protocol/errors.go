package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError is a protocol problem, positioned when CUE knows where it is.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError converts the first CUE error to a CompileError.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueErrors(err, false, cue.Value{})
	return errs[0]
}

// cueErrors splits a CUE error list into CompileErrors, keeping only the
// first unless collect is set. Errors CUE reports without a position are
// placed at the nearest existing field of src along their path.
func cueErrors(err error, collect bool, src cue.Value) []error {
	list := errors.Errors(err)
	if len(list) == 0 {
		return []error{err}
	}
	if !collect {
		list = list[:1]
	}
	out := make([]error, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		ce := &CompileError{Field: "protocol", Message: fmt.Sprintf(format, args...)}
		path := e.Path()
		if len(path) > 0 && path[0] == "#Protocol" {
			path = path[1:]
		}
		if len(path) > 0 {
			ce.Field = strings.Join(path, ".")
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ce.Pos = pos[0]
		} else {
			ce.Pos = fieldPos(src, path)
		}
		out = append(out, ce)
	}
	return out
}

// fieldPos returns the position of the deepest value of src found along
// path, falling back to src itself.
func fieldPos(src cue.Value, path []string) token.Pos {
	sels := make([]cue.Selector, 0, len(path))
	for _, p := range path {
		if i, err := strconv.Atoi(p); err == nil {
			sels = append(sels, cue.Index(i))
		} else {
			sels = append(sels, cue.Str(p))
		}
	}
	for n := len(sels); n > 0; n-- {
		v := src.LookupPath(cue.MakePath(sels[:n]...))
		if !v.Exists() {
			continue
		}
		if pos := v.Pos(); pos.IsValid() {
			return pos
		}
	}
	return src.Pos()
}
