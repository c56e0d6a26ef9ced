// Package errors provides structured, coded errors for the suddenly CLI.
//
// Every failure mode the tool reports to an operator has a registered code:
//
//   - E101-E109: server compile failures
//   - E110-E119: compiled-server load and shape failures
//   - E120-E129: template location and injection failures
//   - E130-E139: configuration failures
//   - E150-E159: deploy failures
//
// Errors are built fluently:
//
//	return errors.New(errors.CodeCompileFailed).
//	    WithDetail(output).
//	    WithSuggestion("Fix the reported compile error and save again").
//	    Wrap(err)
//
// Format() renders a multi-line terminal diagnostic with source context
// when a location is known; FormatCompact() is a single line for logs.
package errors
