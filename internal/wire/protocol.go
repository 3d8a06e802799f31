// Package wire implements the line-oriented request protocol described in
// spec.md §4.2 and §6: "COMMAND|package|dep1,dep2,...". ParseCommand operates
// on a single frame payload (the bytes of one message with the trailing
// newline already stripped by the framing layer) and never itself looks for
// a newline.
package wire

import (
	"errors"
	"strings"

	"package-indexer/internal/store"
)

// CommandType identifies the three supported operations.
type CommandType int

const (
	IndexCommand CommandType = iota
	RemoveCommand
	QueryCommand
)

const (
	cmdIndexStr  = "INDEX"
	cmdRemoveStr = "REMOVE"
	cmdQueryStr  = "QUERY"

	FieldSeparator      = "|"
	DependencySeparator = ","
)

func (ct CommandType) String() string {
	switch ct {
	case IndexCommand:
		return cmdIndexStr
	case RemoveCommand:
		return cmdRemoveStr
	case QueryCommand:
		return cmdQueryStr
	default:
		return "UNKNOWN"
	}
}

// Command is a parsed, semantically-valid-to-dispatch client request.
type Command struct {
	Type         CommandType
	Package      string
	Dependencies store.StringSet
}

// ParseError marks a payload as malformed per spec.md §4.2; the connection
// handler collapses every ParseError to the wire-level ERROR response but
// logs the underlying reason.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Reason
}

var errNotThreeFields = errors.New("expected exactly 3 fields separated by |")

// ParseCommand parses a single frame payload (no trailing newline, no
// embedded newline — both are the framing layer's responsibility per
// spec.md §4.3) into a Command, applying spec.md §4.2's rules in order:
// field count, dependency-token validity, name validity, command validity,
// and the deps-forbidden-on-REMOVE/QUERY rule. No trimming is performed on
// any field; whitespace is part of a name.
func ParseCommand(payload string) (*Command, error) {
	parts := strings.Split(payload, FieldSeparator)
	if len(parts) != 3 {
		return nil, &ParseError{Reason: errNotThreeFields.Error()}
	}

	cmdStr, pkg, depsToken := parts[0], parts[1], parts[2]

	deps, err := parseDeps(depsToken)
	if err != nil {
		return nil, err
	}

	if pkg == "" {
		return nil, &ParseError{Reason: "package name must not be empty"}
	}

	var cmdType CommandType
	switch cmdStr {
	case cmdIndexStr:
		cmdType = IndexCommand
	case cmdRemoveStr:
		cmdType = RemoveCommand
	case cmdQueryStr:
		cmdType = QueryCommand
	default:
		return nil, &ParseError{Reason: "unknown command: " + cmdStr}
	}

	if cmdType != IndexCommand && deps.Len() > 0 {
		return nil, &ParseError{Reason: cmdType.String() + " does not accept dependencies"}
	}

	return &Command{
		Type:         cmdType,
		Package:      pkg,
		Dependencies: deps,
	}, nil
}

// parseDeps splits depsToken on "," into a deduplicated set. An empty token
// yields the empty set. Every resulting segment must be non-empty: a
// leading, trailing, or doubled comma produces an empty segment and is
// rejected, matching spec.md §4.2 rule 5.
func parseDeps(depsToken string) (store.StringSet, error) {
	deps := store.NewStringSet()
	if depsToken == "" {
		return deps, nil
	}
	for _, dep := range strings.Split(depsToken, DependencySeparator) {
		if dep == "" {
			return nil, &ParseError{Reason: "empty dependency name"}
		}
		deps.Add(dep)
	}
	return deps, nil
}
