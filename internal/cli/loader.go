package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tagflow/internal/compiler"
	"github.com/roach88/tagflow/internal/ir"
)

// LoadMode controls how errors are handled during program loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the programs loaded from a directory or file.
type LoadResult struct {
	Programs  []ir.ProgramSpec
	FileCount int // Number of source files read
}

// LoadError represents an error that occurred during program loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadPrograms loads program specs from path. A directory is loaded as a
// CUE package whose top-level "program" struct holds one program per
// field; a .yaml or .yml file holds a single program.
//
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadPrograms(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", path, err)}}
	}
	if !info.IsDir() {
		return loadYAMLProgram(path)
	}

	cueFiles, err := FindCUEFiles(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{FileCount: len(cueFiles)}
	var errs []error

	programsVal := value.LookupPath(cue.ParsePath("program"))
	if programsVal.Exists() {
		iter, iterErr := programsVal.Fields()
		if iterErr != nil {
			return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating programs: %v", iterErr)}}
		}
		for iter.Next() {
			spec, compileErr := compiler.CompileProgram(iter.Value())
			if compileErr != nil {
				errs = append(errs, convertCompileError(compileErr, "program."+iter.Label()))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Programs = append(result.Programs, *spec)
		}
	}

	if len(result.Programs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoPrograms, Message: fmt.Sprintf("no programs found in %s", path)})
	}
	return result, errs
}

// loadYAMLProgram reads a single program from a YAML file. Unknown fields
// are rejected.
func loadYAMLProgram(path string) (*LoadResult, []error) {
	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("%s is neither a directory nor a YAML file", path)}}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}}
	}

	var spec ir.ProgramSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("parsing %s: %v", path, err)}}
	}
	return &LoadResult{Programs: []ir.ProgramSpec{spec}, FileCount: 1}, nil
}

// SelectProgram returns the program called name, or the only program when
// name is empty.
func (r *LoadResult) SelectProgram(name string) (*ir.ProgramSpec, error) {
	if name == "" {
		if len(r.Programs) == 1 {
			return &r.Programs[0], nil
		}
		names := make([]string, len(r.Programs))
		for i, p := range r.Programs {
			names[i] = p.Name
		}
		return nil, &LoadError{
			Code:    ErrCodeProgramNotFound,
			Message: fmt.Sprintf("%d programs found (%s), select one with --program", len(names), strings.Join(names, ", ")),
		}
	}
	for i := range r.Programs {
		if r.Programs[i].Name == name {
			return &r.Programs[i], nil
		}
	}
	return nil, &LoadError{Code: ErrCodeProgramNotFound, Message: fmt.Sprintf("program %q not found", name)}
}

// loadProgram loads path in fail-fast mode and selects one program.
func loadProgram(path, name string) (*ir.ProgramSpec, error) {
	result, errs := LoadPrograms(path, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return result.SelectProgram(name)
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands. Program
// validation codes (E101-E110) come from the compiler package.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeScanError       = "E002" // Directory scan error
	ErrCodeNoFiles         = "E003" // No CUE files found
	ErrCodeLoadFailed      = "E004" // CUE load failed
	ErrCodeNotFound        = "E005" // Path not found
	ErrCodeBuildFailed     = "E006" // CUE build or YAML parse failed
	ErrCodeWriteFailed     = "E007" // File write error
	ErrCodeNoPrograms      = "E008" // No program struct found
	ErrCodeProgramNotFound = "E009" // --program names nothing, or is ambiguous
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeBuildFailed
	case field == "reactors":
		return compiler.ErrProgramNoReactors
	case strings.HasSuffix(field, ".reactions"):
		return compiler.ErrReactorNoReactions
	case strings.HasPrefix(field, "connections"):
		return compiler.ErrInvalidConnection
	default:
		return ErrCodeGeneric
	}
}
