package errors

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Category represents the type of error.
type Category string

const (
	CategoryCompile  Category = "compile"
	CategoryBundle   Category = "bundle"
	CategoryLoad     Category = "load"
	CategoryTemplate Category = "template"
	CategoryConfig   Category = "config"
	CategoryDeploy   Category = "deploy"
	CategoryCLI      Category = "cli"
)

// Location represents a source code location.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// SuddenlyError is a structured error with source location, suggestions and
// the compiler/bundler output that produced it.
type SuddenlyError struct {
	// Code is a unique error identifier (e.g., "E101").
	Code string

	// Category is the error type (compile, bundle, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation, usually raw subprocess output.
	Detail string

	// Location is the source code location where the error occurred.
	Location *Location

	// Context contains surrounding source code lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *SuddenlyError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *SuddenlyError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds source location to the error.
func (e *SuddenlyError) WithLocation(file string, line, column int) *SuddenlyError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithLocationFromOutput extracts a location from compiler output in the
// common "file:line:column: message" form. Output without a parsable
// location leaves the error unchanged.
func (e *SuddenlyError) WithLocationFromOutput(output string) *SuddenlyError {
	if output == "" {
		return e
	}
	first := output
	if idx := strings.IndexByte(output, '\n'); idx >= 0 {
		first = output[:idx]
	}
	parts := strings.SplitN(first, ":", 4)
	if len(parts) >= 3 {
		var line, col int
		fmt.Sscanf(parts[1], "%d", &line)
		fmt.Sscanf(parts[2], "%d", &col)
		if line > 0 {
			e.Location = &Location{File: parts[0], Line: line, Column: col}
			e.Context = readContextLines(parts[0], line, 5)
		}
	}
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *SuddenlyError) WithSuggestion(s string) *SuddenlyError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *SuddenlyError) WithDetail(d string) *SuddenlyError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *SuddenlyError) Wrap(err error) *SuddenlyError {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

// New creates a SuddenlyError from a registered error code.
func New(code string) *SuddenlyError {
	template, ok := registry[code]
	if !ok {
		return &SuddenlyError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &SuddenlyError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a new SuddenlyError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *SuddenlyError {
	return &SuddenlyError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a SuddenlyError.
func FromError(err error, code string) *SuddenlyError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*SuddenlyError); ok {
		return se
	}
	return New(code).Wrap(err)
}

// HasCode reports whether err carries the given registered code.
func HasCode(err error, code string) bool {
	se, ok := err.(*SuddenlyError)
	if !ok {
		return false
	}
	return se.Code == code
}
