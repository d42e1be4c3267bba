package core

// errors.go defines the pipeline's sentinel errors and maps them to
// user-facing messages with codes for support reference.
//
// Error codes are grouped by category:
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds the maximum upload size
//	FILE002 - Invalid CSV: The file could not be parsed as CSV
//	FILE003 - Encoding error: File is not valid UTF-8
//	FILE004 - No file: No file was selected
//	FILE005 - Empty file: The uploaded file is empty
//	FILE006 - Not CSV: Only CSV files are accepted
//
// # Conversion Errors (CNV001-CNV099)
//
//	CNV001 - Conversion failed: The table could not be converted to JSON
//	CNV002 - Invalid orientation: Unknown JSON structure
//	CNV003 - Sample size: Sample size is out of range
//	CNV004 - Already running: A conversion is already running for this file
//	CNV005 - Conversion not found: The conversion has expired
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found: The uploaded file has expired
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - System busy: Too many conversions in progress
//	UPL004 - Request cancelled
//	UPL005 - Request timeout
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// Sentinels are matched with errors.Is first. Errors that do not wrap a
// sentinel fall back to case-insensitive substring patterns; the first
// matching pattern wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FormatHint is the remediation hint shown with every parse failure.
const FormatHint = "Please ensure your CSV file is properly formatted."

var (
	ErrFileTooLarge       = errors.New("file too large")
	ErrInvalidCSV         = errors.New("invalid csv")
	ErrEncoding           = errors.New("encoding error")
	ErrNoFile             = errors.New("no file provided")
	ErrEmptyFile          = errors.New("empty file")
	ErrNotCSV             = errors.New("not a csv file")
	ErrConversion         = errors.New("conversion failed")
	ErrInvalidOrientation = errors.New("invalid orientation")
	ErrSampleSize         = errors.New("invalid sample size")
	ErrConversionRunning  = errors.New("conversion already running")
	ErrConversionNotFound = errors.New("conversion not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrTooManyConversions = errors.New("too many conversions in progress")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// ParseError reports where CSV parsing failed.
type ParseError struct {
	Line int   // 1-based line in the input, 0 if unknown
	Err  error // underlying reader or csv error
	kind error // ErrInvalidCSV or ErrEncoding
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%v: line %d: %v", e.kind, e.Line, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.kind, e.Err)
}

// Unwrap exposes both the category sentinel and the underlying cause.
func (e *ParseError) Unwrap() []error {
	return []error{e.kind, e.Err}
}

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages is checked in order with errors.Is.
var sentinelMessages = []sentinelMessage{
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum upload size", "Split the file or sample it before uploading", "FILE001"}},
	{ErrEncoding, UserMessage{"File contains invalid characters", "Save the file with UTF-8 encoding", "FILE003"}},
	{ErrInvalidCSV, UserMessage{"The file could not be parsed as CSV", FormatHint, "FILE002"}},
	{ErrNoFile, UserMessage{"No file was selected", "Please select a CSV file to upload", "FILE004"}},
	{ErrEmptyFile, UserMessage{"The uploaded file is empty", "Please upload a CSV file with a header row", "FILE005"}},
	{ErrNotCSV, UserMessage{"Only CSV files are accepted", "Choose a file with a .csv extension", "FILE006"}},
	{ErrInvalidOrientation, UserMessage{"Unknown JSON structure", "Choose Records, Split or Index", "CNV002"}},
	{ErrSampleSize, UserMessage{"Sample size is out of range", "Pick a sample size within the slider bounds", "CNV003"}},
	{ErrConversionRunning, UserMessage{"A conversion is already running for this file", "Wait for it to finish and try again", "CNV004"}},
	{ErrConversionNotFound, UserMessage{"Conversion not found", "The result may have expired. Please convert again", "CNV005"}},
	{ErrConversion, UserMessage{"The data could not be converted to JSON", FormatHint, "CNV001"}},
	{ErrSessionNotFound, UserMessage{"Uploaded file not found", "The upload may have expired. Please upload the file again", "SES001"}},
	{ErrTooManyConversions, UserMessage{"System is busy processing other conversions", "Please wait a moment and try again", "UPL002"}},
	{context.Canceled, UserMessage{"Request was cancelled", "Please try again", "UPL004"}},
	{context.DeadlineExceeded, UserMessage{"Request timed out", "Try a smaller file or sample the data", "UPL005"}},
	{ErrRateLimited, UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catches errors from outside the pipeline (multipart parsing,
// http.MaxBytesReader) that carry no sentinel.
var errorPatterns = []errorPattern{
	{
		pattern: "request body too large",
		msg:     UserMessage{"File exceeds the maximum upload size", "Split the file or sample it before uploading", "FILE001"},
	},
	{
		pattern: "no such file",
		msg:     UserMessage{"No file was selected", "Please select a CSV file to upload", "FILE004"},
	},
	{
		pattern: "multipart",
		msg:     UserMessage{"The upload was not a valid form submission", "Please select a CSV file and try again", "FILE004"},
	},
	{
		pattern: "rate limit",
		msg:     UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
// Support staff should check the server log for the technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  FormatHint,
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("ingest: %w", ErrEmptyFile))
//	// msg.Code == "FILE005"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
