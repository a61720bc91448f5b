package protocol

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadMode controls how errors are handled while loading a protocol.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Fields used for errors raised before the definition is compiled.
const (
	FieldDir   = "dir"
	FieldLoad  = "load"
	FieldBuild = "build"
	FieldRoot  = "protocol"
)

// Load reads the CUE files in dir and compiles their top-level "protocol"
// value. An empty dir yields Default().
func Load(dir string, mode LoadMode) (*Protocol, []error) {
	if dir == "" {
		return Default(), nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{&CompileError{Field: FieldDir, Message: fmt.Sprintf("protocol directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&CompileError{Field: FieldDir, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil || len(files) == 0 {
		return nil, []error{&CompileError{Field: FieldDir, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&CompileError{Field: FieldLoad, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&CompileError{Field: FieldLoad, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		errs := cueErrors(err, mode == LoadModeCollectAll, value)
		for _, e := range errs {
			if ce, ok := e.(*CompileError); ok && ce.Field == FieldRoot {
				ce.Field = FieldBuild
			}
		}
		return nil, errs
	}

	root := value.LookupPath(cue.ParsePath("protocol"))
	if !root.Exists() {
		return nil, []error{&CompileError{
			Field:   FieldRoot,
			Message: "no top-level protocol value found",
			Pos:     value.Pos(),
		}}
	}
	return compile(root, mode == LoadModeCollectAll)
}
