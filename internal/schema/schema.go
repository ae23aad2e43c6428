// Package schema validates JSON payloads against the CUE definitions
// embedded under schemas/. Each file contributes one or more definitions,
// looked up by name, e.g. "#Fervidex".
package schema

import (
	"embed"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schemas/*.cue
var schemaFS embed.FS

// Definition names.
const (
	Fervidex    = "#Fervidex"
	BatchManual = "#BatchManual"
	ARCPage     = "#ARCPage"
)

// Error is a payload that does not satisfy a definition. Reason is CUE's
// message prefixed with the payload path, e.g.
// "entry_id: invalid value 5 (out of bound >=1000)" or
// "body[3].timeAchieved: invalid value 1700000000 (out of bound >1000000000000)".
type Error struct {
	Definition string
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payload does not match %s: %s", e.Definition, e.Reason)
}

// Validator holds the compiled schemas. A cue.Context is not safe for
// concurrent use, so every evaluation holds mu.
type Validator struct {
	mu    sync.Mutex
	ctx   *cue.Context
	roots []cue.Value
	defs  map[string]cue.Value
}

// New compiles every embedded schema file.
func New() (*Validator, error) {
	v := &Validator{ctx: cuecontext.New(), defs: make(map[string]cue.Value)}

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".cue" {
			continue
		}
		content, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		val := v.ctx.CompileBytes(content, cue.Filename(entry.Name()))
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", entry.Name(), err)
		}

		v.roots = append(v.roots, val)
	}
	if err := v.loadDefinitions(); err != nil {
		return nil, err
	}
	if len(v.defs) == 0 {
		return nil, fmt.Errorf("no CUE definitions found in embedded schemas")
	}
	return v, nil
}

func (v *Validator) loadDefinitions() error {
	defs := make(map[string]cue.Value)
	for _, root := range v.roots {
		iter, err := root.Fields(cue.Definitions(true))
		if err != nil {
			return fmt.Errorf("list definitions: %w", err)
		}
		for iter.Next() {
			if sel := iter.Selector(); sel.IsDefinition() {
				defs[sel.String()] = iter.Value()
			}
		}
	}
	v.defs = defs
	return nil
}

// Fill unifies the CUE expression src into every schema file declaring path.
// Definitions referring to path see the filled value, which is how tables
// known only at runtime, such as per-game allow-lists, reach a schema.
func (v *Validator) Fill(path, src string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	val := v.ctx.CompileString(src, cue.Filename(path))
	if err := val.Err(); err != nil {
		return fmt.Errorf("compile fill for %s: %w", path, err)
	}
	p := cue.ParsePath(path)
	if err := p.Err(); err != nil {
		return fmt.Errorf("parse path %s: %w", path, err)
	}

	filled := false
	for i, root := range v.roots {
		if !root.LookupPath(p).Exists() {
			continue
		}
		next := root.FillPath(p, val)
		if err := next.LookupPath(p).Validate(); err != nil {
			return fmt.Errorf("fill %s: %w", path, err)
		}
		v.roots[i] = next
		filled = true
	}
	if !filled {
		return fmt.Errorf("no schema declares %s", path)
	}
	return v.loadDefinitions()
}

// Definitions lists the loaded definition names.
func (v *Validator) Definitions() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	names := make([]string, 0, len(v.defs))
	for name := range v.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks a JSON payload against the named definition. A payload
// that is not JSON or does not match returns an *Error; an unknown
// definition is a plain error.
func (v *Validator) Validate(def string, payload []byte) error {
	expr, err := cuejson.Extract(def, payload)
	if err != nil {
		return &Error{Definition: def, Reason: "invalid JSON: " + err.Error()}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	schema, ok := v.defs[def]
	if !ok {
		return fmt.Errorf("unknown schema definition %s", def)
	}

	data := v.ctx.BuildExpr(expr)
	if err := data.Err(); err != nil {
		return &Error{Definition: def, Reason: describe(err)}
	}

	unified := schema.Unify(data)
	if err := unified.Err(); err != nil {
		return &Error{Definition: def, Reason: describe(err)}
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &Error{Definition: def, Reason: describe(err)}
	}
	return nil
}

// describe keeps the first CUE error, prefixed with its payload path.
func describe(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	format, args := errs[0].Msg()
	msg := fmt.Sprintf(format, args...)
	if p := payloadPath(errs[0].Path()); p != "" {
		msg = p + ": " + msg
	}
	if len(errs) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(errs)-1)
	}
	return msg
}

// payloadPath renders a CUE error path the way the payload is addressed:
// the definition name is dropped and list indices are bracketed.
func payloadPath(segments []string) string {
	var b strings.Builder
	for i, seg := range segments {
		switch {
		case i == 0 && strings.HasPrefix(seg, "#"):
			continue
		case isIndex(seg):
			b.WriteString("[" + seg + "]")
		default:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(strings.Trim(seg, `"`))
		}
	}
	return b.String()
}

func isIndex(seg string) bool {
	_, err := strconv.Atoi(seg)
	return err == nil
}
