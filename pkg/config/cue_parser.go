package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// cueDecoder evaluates CUE manifests and decodes them into Go values.
type cueDecoder struct {
	mu  sync.Mutex
	ctx *cue.Context
}

func newCUEDecoder() *cueDecoder {
	return &cueDecoder{ctx: cuecontext.New()}
}

// decode compiles data, requires every field to be concrete and decodes the result into out.
func (d *cueDecoder) decode(data []byte, filename string, out any) []ValidationError {
	d.mu.Lock()
	defer d.mu.Unlock()

	val := d.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	if err := val.Decode(out); err != nil {
		return []ValidationError{{
			File:     filename,
			Message:  fmt.Sprintf("failed to decode manifest: %v", err),
			Severity: SeverityError,
		}}
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Path:     cuePath(e),
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: SeverityError,
		})
	}

	return validationErrors
}

func cuePath(e errors.Error) string {
	return strings.Join(e.Path(), ".")
}
