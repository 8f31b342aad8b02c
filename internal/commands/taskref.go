package commands

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
)

// ErrTaskIDRequired indicates no task id was provided.
var ErrTaskIDRequired = errors.New("task id required")

// ParseTaskID parses the leading task id from args and returns the rest.
// Ids are the server-assigned numbers shown by list.
func ParseTaskID(args []string) (int, []string, error) {
	if len(args) == 0 {
		return 0, nil, ErrTaskIDRequired
	}
	first := args[0]
	if !isAllDigits(first) {
		return 0, nil, fmt.Errorf("invalid task id: %s", first)
	}
	id, err := strconv.Atoi(first)
	if err != nil || id < 1 {
		return 0, nil, fmt.Errorf("invalid task id: %s", first)
	}
	return id, args[1:], nil
}

// isAllDigits returns true if s consists only of ASCII digits and is non-empty.
func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// runWithTaskID parses the task id and reports usage errors the same way for
// every command that takes one.
func runWithTaskID(env *Env, args []string, fn func(id int, rest []string) int) int {
	id, rest, err := ParseTaskID(args)
	if err != nil {
		return env.Usagef("%v", err)
	}
	return fn(id, rest)
}
