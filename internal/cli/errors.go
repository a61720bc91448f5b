package cli

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
)

// LoadError is a positioned problem reported by build, validate and schedule.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: [%s] %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Describe is the message prefixed with its position, without the code.
func (e *LoadError) Describe() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Loading errors.
const (
	ErrCodeDirNotFound  = "E001" // protocol directory does not exist
	ErrCodeNotDirectory = "E002" // path is not a directory
	ErrCodeNoCUEFiles   = "E003" // no .cue files in directory
	ErrCodeLoadFailed   = "E004" // CUE load failed
	ErrCodeBuildFailed  = "E005" // CUE build failed
	ErrCodeNoProtocol   = "E006" // no top-level protocol value
	ErrCodeCompile      = "E007" // generic compile error
)

// Protocol errors, by field.
const (
	ErrCodeParticipants = "E101"
	ErrCodeBlocks       = "E102"
	ErrCodeResponse     = "E103"
	ErrCodePractice     = "E104"
	ErrCodeStimulus     = "E105"
	ErrCodeTexts        = "E106"
	ErrCodeSchema       = "E107" // any other schema violation
)

// Schedule and stimulus errors.
const (
	ErrCodeScheduleMissing    = "E201"
	ErrCodeScheduleMalformed  = "E202"
	ErrCodeScheduleDimensions = "E203"
	ErrCodeStimulusMissing    = "E301"
)

// fieldCodes maps protocol field prefixes to error codes. Longer prefixes
// are not needed: every field falls under exactly one entry.
var fieldCodes = []struct {
	prefix string
	code   string
}{
	{"participants", ErrCodeParticipants},
	{"blocks", ErrCodeBlocks},
	{"trials_per_block", ErrCodeBlocks},
	{"response", ErrCodeResponse},
	{"practice", ErrCodePractice},
	{"stimulus", ErrCodeStimulus},
	{"texts", ErrCodeTexts},
}

// MapFieldToErrorCode returns the error code for a protocol field.
func MapFieldToErrorCode(field string) string {
	switch field {
	case protocol.FieldDir:
		return ErrCodeDirNotFound
	case protocol.FieldLoad:
		return ErrCodeLoadFailed
	case protocol.FieldBuild:
		return ErrCodeBuildFailed
	case protocol.FieldRoot:
		return ErrCodeNoProtocol
	}
	for _, fc := range fieldCodes {
		if field == fc.prefix || strings.HasPrefix(field, fc.prefix+".") {
			return fc.code
		}
	}
	if field == "" {
		return ErrCodeCompile
	}
	return ErrCodeSchema
}

// toLoadError converts a protocol error to a LoadError.
func toLoadError(err error) *LoadError {
	var ce *protocol.CompileError
	if !errors.As(err, &ce) {
		return &LoadError{Code: ErrCodeCompile, Message: err.Error()}
	}
	code := MapFieldToErrorCode(ce.Field)
	switch {
	case ce.Field == protocol.FieldDir && strings.Contains(ce.Message, "not a directory"):
		code = ErrCodeNotDirectory
	case ce.Field == protocol.FieldDir && strings.Contains(ce.Message, "no CUE files"):
		code = ErrCodeNoCUEFiles
	}
	msg := ce.Message
	if !strings.HasPrefix(ce.Field, "protocol") && ce.Field != protocol.FieldDir &&
		ce.Field != protocol.FieldLoad && ce.Field != protocol.FieldBuild {
		msg = ce.Field + ": " + ce.Message
	}
	return &LoadError{Code: code, Message: msg, Pos: ce.Pos}
}

// scheduleError converts a schedule fetch or check error to a LoadError.
func scheduleError(id int, err error) *LoadError {
	code := ErrCodeScheduleMalformed
	switch {
	case errors.Is(err, schedule.ErrScheduleNotFound), errors.Is(err, blob.ErrNotFound):
		code = ErrCodeScheduleMissing
	case errors.Is(err, schedule.ErrEmpty),
		errors.Is(err, schedule.ErrRagged),
		errors.Is(err, schedule.ErrDimensions):
		code = ErrCodeScheduleDimensions
	}
	return &LoadError{Code: code, Message: fmt.Sprintf("participant %d: %v", id, err)}
}

// loadProtocol loads dir, converting every problem to a LoadError.
func loadProtocol(dir string, mode protocol.LoadMode) (*protocol.Protocol, []*LoadError) {
	p, errs := protocol.Load(dir, mode)
	if len(errs) == 0 {
		return p, nil
	}
	out := make([]*LoadError, len(errs))
	for i, err := range errs {
		out[i] = toLoadError(err)
	}
	return nil, out
}
