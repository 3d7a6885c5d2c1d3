package spec

import (
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// testSpecSchema is the CUE definition a decoded test spec must satisfy.
// Enum and bound violations surface here with field positions; rules that
// depend on relationships between fields live in validateDomain.
const testSpecSchema = `
#Step: {
	action: "WAIT" | "INPUT" | "ASSERT" | "SCREENSHOT" | "STATE_SAVE" | "STATE_LOAD" | "LOG"
	frame:  int & >=0
	value?: string
	description?: string
}

#TestSpec: {
	name:       string & !=""
	game_file:  string & !=""
	savestate?: string
	timeout:    int & >0
	steps: [...#Step]
	expected_results?: string
}
`

var (
	schemaOnce sync.Once
	schemaVal  cue.Value
)

// compiledSchema compiles the embedded schema once. The schema is a
// string constant, so a compile failure is a programming error and is
// surfaced on first use rather than swallowed.
func compiledSchema() cue.Value {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		schemaVal = ctx.CompileString(testSpecSchema).LookupPath(cue.ParsePath("#TestSpec"))
	})
	return schemaVal
}

// validateSchema unifies the decoded spec with the CUE schema and
// reports the first violation as a ValidationError.
func validateSchema(path string, ts *TestSpec) error {
	schema := compiledSchema()
	if err := schema.Err(); err != nil {
		return &ValidationError{Path: path, Message: "internal schema error: " + err.Error()}
	}

	val := schema.Context().Encode(ts)
	if err := val.Err(); err != nil {
		return &ValidationError{Path: path, Message: err.Error()}
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		errs := cueerrors.Errors(err)
		if len(errs) > 0 {
			first := errs[0]
			return &ValidationError{
				Path:    path,
				Field:   cueFieldPath(first.Path()),
				Message: first.Error(),
			}
		}
		return &ValidationError{Path: path, Message: err.Error()}
	}
	return nil
}

func cueFieldPath(parts []string) string {
	field := ""
	for _, p := range parts {
		if field != "" {
			field += "."
		}
		field += p
	}
	return field
}
