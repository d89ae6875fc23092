// Package runtime implements the handler-side runtime loop (spec.md §4.4):
// a single cooperative task that long-polls the bridge for work, dispatches
// into a registry.Registry, and reports the outcome back.
package runtime

import "strings"

// EventPayload is the body of a completed "runtime/invocation/next"
// response: one unit of work for the handler process to execute.
type EventPayload struct {
	FunctionName string         `json:"functionName"`
	Params       map[string]any `json:"params"`
	Context      map[string]any `json:"context"`
}

// Error is the normalized shape of a failed invocation, sent from the
// runtime to the bridge and reshaped for the external caller.
type Error struct {
	ErrorMessage string   `json:"errorMessage"`
	ErrorType    string   `json:"errorType"`
	StackTrace   []string `json:"stackTrace"`
}

// NormalizeError converts an arbitrary error value thrown by a handler into
// the closed RuntimeError shape, per spec.md §4.4's normalization rules and
// DESIGN.md's Open Question decision on stack-trace splitting.
func NormalizeError(err error) Error {
	if err == nil {
		return Error{ErrorMessage: "An unknown error occurred", ErrorType: "UnknownError"}
	}

	msg := err.Error()
	if msg == "" {
		msg = "An unknown error occurred"
	}

	typ := "UnknownError"
	if named, ok := err.(interface{ Name() string }); ok && named.Name() != "" {
		typ = named.Name()
	} else if typedErr, ok := err.(interface{ Type() string }); ok && typedErr.Type() != "" {
		typ = typedErr.Type()
	}

	var stack []string
	if withStack, ok := err.(interface{ Stack() []string }); ok {
		stack = withStack.Stack()
	} else if msg != "" {
		stack = splitStack(msg)
	}
	if stack == nil {
		stack = []string{}
	}

	return Error{ErrorMessage: msg, ErrorType: typ, StackTrace: stack}
}

// splitStack splits a raw stack string on \n, the canonical delimiter this
// implementation uses, dropping empty lines. It is lossy for single-line
// strings with no embedded newline: those yield nil, which NormalizeError
// turns into an empty stack trace.
func splitStack(raw string) []string {
	if !strings.Contains(raw, "\n") {
		return nil
	}
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
