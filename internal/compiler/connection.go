package compiler

import (
	"regexp"

	"cuelang.org/go/cue"

	"github.com/roach88/tagflow/internal/ir"
)

// portRefPattern matches "Reactor.port".
var portRefPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)$`)

// splitPortRef splits "Reactor.port" into its parts.
func splitPortRef(ref string) (reactor, port string, ok bool) {
	m := portRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// parseConnections extracts the connection list. Each entry is either
// {from: "A.out", to: "B.in"} or the short form "A.out -> B.in".
func parseConnections(v cue.Value) ([]ir.ConnectionSpec, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.ConnectionSpec
	for iter.Next() {
		cv := iter.Value()
		if s, err := cv.String(); err == nil {
			conn, ok := parseArrow(s)
			if !ok {
				return nil, &CompileError{
					Field:   "connections",
					Message: "connection must be written \"Reactor.out -> Reactor.in\"",
					Pos:     cv.Pos(),
				}
			}
			out = append(out, conn)
			continue
		}

		var conn ir.ConnectionSpec
		if conn.From, err = requiredRef(cv, "from"); err != nil {
			return nil, err
		}
		if conn.To, err = requiredRef(cv, "to"); err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, nil
}

var arrowPattern = regexp.MustCompile(`^\s*(\S+)\s*->\s*(\S+)\s*$`)

func parseArrow(s string) (ir.ConnectionSpec, bool) {
	m := arrowPattern.FindStringSubmatch(s)
	if m == nil {
		return ir.ConnectionSpec{}, false
	}
	if !portRefPattern.MatchString(m[1]) || !portRefPattern.MatchString(m[2]) {
		return ir.ConnectionSpec{}, false
	}
	return ir.ConnectionSpec{From: m[1], To: m[2]}, true
}

func requiredRef(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   "connections." + field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if !portRefPattern.MatchString(s) {
		return "", &CompileError{
			Field:   "connections." + field,
			Message: "port reference must be \"Reactor.port\", got " + s,
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}
