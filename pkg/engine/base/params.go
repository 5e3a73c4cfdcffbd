package base

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/500Foods/Philement-sub005/pkg/engine"
)

// Envelope is the decoded form of QueryRequest.ParametersJSON: a map
// from type tag (INTEGER, STRING, TEXT, BOOLEAN, FLOAT, DATE, TIME,
// DATETIME, TIMESTAMP) to a map of parameter name to raw decoded JSON
// value.
type Envelope map[string]map[string]any

// DecodeEnvelope unmarshals a QueryRequest's raw ParametersJSON bytes.
// An empty or malformed payload decodes to an empty Envelope rather
// than erroring here — a template with no named placeholders is valid
// with no parameters at all, and BindValues reports a clear
// per-parameter error if a placeholder actually needed a value.
func DecodeEnvelope(raw []byte) Envelope {
	if len(raw) == 0 {
		return Envelope{}
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}
	}
	return env
}

var namedParam = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// RewriteTemplate rewrites a SQL template's :name placeholders into
// the engine's native positional placeholder syntax, returning the
// ordered parameter names alongside it. This step needs no parameter
// values, so PrepareStatement can call it without an Envelope.
func RewriteTemplate(template string, placeholder func(int) string) (string, []string) {
	names := make([]string, 0, 4)
	rewritten := namedParam.ReplaceAllStringFunc(template, func(tok string) string {
		names = append(names, tok[1:])
		return placeholder(len(names))
	})
	return rewritten, names
}

// BindValues looks up each name across every type bucket in env and
// converts it according to the bucket it was found in, returning the
// ordered argument slice a database/sql call expects.
func BindValues(names []string, env Envelope) ([]any, *engine.QueryResult) {
	args := make([]any, 0, len(names))
	for _, name := range names {
		val, kind, found := lookup(env, name)
		if !found {
			return nil, engine.FailureResult(engine.ErrInvalidArgument,
				fmt.Sprintf("no value supplied for parameter %q", name))
		}

		converted, errRes := convert(name, kind, val)
		if errRes != nil {
			return nil, errRes
		}
		args = append(args, converted)
	}
	return args, nil
}

// BindTemplate is the common case of RewriteTemplate followed by
// BindValues, used by ExecuteQuery paths that rewrite and bind in one
// step. Every concrete driver shares this logic rather than
// reimplementing parameter binding, since the envelope format and the
// error taxonomy (UnsupportedParameterType, ParameterOutOfRange) are
// identical across engines — only the placeholder syntax differs.
func BindTemplate(template string, env Envelope, placeholder func(int) string) (string, []any, *engine.QueryResult) {
	rewritten, names := RewriteTemplate(template, placeholder)
	args, errRes := BindValues(names, env)
	if errRes != nil {
		return "", nil, errRes
	}
	return rewritten, args, nil
}

func lookup(env Envelope, name string) (any, string, bool) {
	// Deterministic bucket scan order so ambiguous envelopes (the same
	// name present under two types, which callers should never send)
	// resolve the same way every time rather than depending on map
	// iteration order.
	kinds := make([]string, 0, len(env))
	for k := range env {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		if v, ok := env[kind][name]; ok {
			return v, kind, true
		}
	}
	return nil, "", false
}

func convert(name, kind string, val any) (any, *engine.QueryResult) {
	switch strings.ToUpper(kind) {
	case "STRING", "TEXT":
		// A JSON null under a string tag is a hard failure: the caller
		// must send a value, not rely on an implicit default.
		if val == nil {
			return nil, nullErr(name, kind)
		}
		s, ok := val.(string)
		if !ok {
			return nil, typeErr(name, kind)
		}
		return s, nil
	case "DATE", "TIME", "DATETIME", "TIMESTAMP":
		// Date-like values bind as UTF-8 strings in whatever literal
		// format the engine expects; null is a hard failure just like
		// TEXT.
		if val == nil {
			return nil, nullErr(name, kind)
		}
		s, ok := val.(string)
		if !ok {
			return nil, typeErr(name, kind)
		}
		return s, nil
	case "INTEGER":
		f, ok := val.(float64)
		if !ok {
			return nil, typeErr(name, kind)
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, engine.FailureResult(engine.ErrParameterOutOfRange,
				fmt.Sprintf("parameter %q overflows a 64-bit integer", name))
		}
		if f != float64(int64(f)) {
			return nil, engine.FailureResult(engine.ErrParameterOutOfRange,
				fmt.Sprintf("parameter %q is not an integral value", name))
		}
		return int64(f), nil
	case "FLOAT":
		f, ok := val.(float64)
		if !ok {
			return nil, typeErr(name, kind)
		}
		return f, nil
	case "BOOLEAN":
		// database/sql drivers map bool to the engine's native boolean
		// or to 0/1 where no native boolean exists.
		b, ok := val.(bool)
		if !ok {
			return nil, typeErr(name, kind)
		}
		return b, nil
	default:
		return nil, engine.FailureResult(engine.ErrUnsupportedParameterType,
			fmt.Sprintf("parameter %q has unrecognized type tag %q", name, kind))
	}
}

func nullErr(name, kind string) *engine.QueryResult {
	return engine.FailureResult(engine.ErrBindFailed,
		fmt.Sprintf("parameter %q is null; %s parameters require a value", name, kind))
}

func typeErr(name, kind string) *engine.QueryResult {
	return engine.FailureResult(engine.ErrUnsupportedParameterType,
		fmt.Sprintf("parameter %q does not decode as declared type %q", name, kind))
}
