// Package tool defines the closed set of tools available to specialist
// handlers. Tools never panic and never return Go errors from Invoke;
// failures are carried as data inside the Result.
package tool

import (
	"context"
	"fmt"
)

// User identifies the employee a tool call runs on behalf of.
type User struct {
	ID         string
	Role       string
	Department string
}

// Input is the argument envelope passed to every tool.
type Input struct {
	Query string
	User  User
	Topic string // intent label, used by tools that narrow their scope
}

// ExecutionError describes a failed tool call. It is a value carried in
// the Result, not a raised error.
type ExecutionError struct {
	ToolID string `json:"tool_id"`
	Reason string `json:"reason"`
}

// Error implements the error interface for logging.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.ToolID, e.Reason)
}

// Result is the outcome of one tool call.
type Result struct {
	ToolID  string          `json:"tool_id"`
	OK      bool            `json:"ok"`
	Content string          `json:"content,omitempty"`
	Sources []string        `json:"sources,omitempty"`
	Err     *ExecutionError `json:"error,omitempty"`
}

// Success builds a successful result.
func Success(toolID, content string, sources ...string) *Result {
	return &Result{ToolID: toolID, OK: true, Content: content, Sources: sources}
}

// Failure builds a failed result with a structured error.
func Failure(toolID, reason string) *Result {
	return &Result{
		ToolID: toolID,
		OK:     false,
		Err:    &ExecutionError{ToolID: toolID, Reason: reason},
	}
}

// Failuref builds a failed result with a formatted reason.
func Failuref(toolID, format string, args ...any) *Result {
	return Failure(toolID, fmt.Sprintf(format, args...))
}

// Tool is one capability a specialist handler can call.
type Tool interface {
	// ID returns the stable tool identifier, e.g. "kb.search".
	ID() string

	// Description returns a one-line description for planning prompts.
	Description() string

	// Invoke runs the tool. The returned result reports failure as data.
	Invoke(ctx context.Context, in Input) *Result
}
