package entities

import (
	"fmt"
	"runtime"
	"strings"
)

// RecoverOperation converts a panicking user handler into an
// OperationResult instead of letting it crash the scheduler loop.
// Call it deferred, immediately wrapping the handler invocation:
//
//	defer entities.RecoverOperation(operation, &result)
func RecoverOperation(operation string, result *OperationResult) {
	if err := recover(); err != nil {
		stack := make([]byte, 4096)
		n := runtime.Stack(stack, false)
		details := fmt.Sprintf("panic in operation %q: %v\n%s", operation, err, cleanStack(stack[:n]))
		*result = NewErr(ExceptionOperationFailed, details)
	}
}

// cleanStack trims the recover()/Stack() frames that point at this
// file rather than the panicking handler.
func cleanStack(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			if i+2 < len(lines) {
				lines = lines[i+2:]
			}
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
