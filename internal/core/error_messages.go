package core

// error_messages.go maps technical errors to operator-facing messages with
// codes for support reference.
//
// # Error Codes Reference
//
// Configuration (CFG):
//
//	CFG001 - Unknown entity type: the requested entity type is not registered
//	         Action: Run "recorder schemas" to list valid entity types
//	CFG002 - Unknown project: the project is not configured, or none are
//	         Action: Set PROJECTS or PROJECTS_FILE
//
// Schema (SCH):
//
//	SCH001 - Schema mismatch: a record does not fit its entity schema
//	         Action: Check the snapshot columns against the entity schema
//
// Data quality (DQ):
//
//	DQ001  - Duplicate identity: a snapshot contains the same identity twice
//	         Action: Deduplicate the source export and capture it again
//
// Storage (SRC, SNK):
//
//	SRC001 - Source unavailable: snapshots could not be read
//	SNK001 - Sink unavailable: diff records could not be written
//	         Action: Check database connectivity and retry the run
//
// Runs (RUN):
//
//	RUN001 - Run cancelled: the run was cancelled or timed out
//	RUN002 - System busy: too many runs in progress
//
// Input (IN):
//
//	IN001  - Invalid date: dates must be YYYY-MM-DD
//	IN002  - Invalid snapshot file: CSV or JSON could not be parsed
//	IN003  - Empty snapshot file: no header or records found
//	IN004  - Missing customer id: snapshot requests need a customer
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check application logs for the technical error
//
// Typed errors (DiffError and the sentinels in errors.go) are matched first.
// Other errors fall back to case-insensitive substring patterns; the first
// matching pattern wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var kindMessages = map[FailureKind]UserMessage{
	KindUnknownEntityType: {
		Message: "Unknown entity type",
		Action:  `Run "recorder schemas" to list valid entity types`,
		Code:    "CFG001",
	},
	KindSchemaMismatch: {
		Message: "Snapshot record does not match its entity schema",
		Action:  "Check the snapshot columns against the entity schema",
		Code:    "SCH001",
	},
	KindDuplicateIdentity: {
		Message: "Snapshot contains a duplicate identity",
		Action:  "Deduplicate the source export and capture it again",
		Code:    "DQ001",
	},
	KindSourceUnavailable: {
		Message: "Snapshots could not be read",
		Action:  "Check database connectivity and retry the run",
		Code:    "SRC001",
	},
	KindSinkUnavailable: {
		Message: "Diff records could not be saved",
		Action:  "Check database connectivity and retry the run",
		Code:    "SNK001",
	},
	KindCancelled: {
		Message: "Run was cancelled or timed out",
		Action:  "Retry the run, or raise RUN_UNIT_TIMEOUT if it keeps timing out",
		Code:    "RUN001",
	},
}

var projectMessage = UserMessage{
	Message: "Project is not configured",
	Action:  "Set PROJECTS or PROJECTS_FILE and restart",
	Code:    "CFG002",
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages for errors that carry no kind.
var errorPatterns = []errorPattern{
	{
		pattern: "too many concurrent runs",
		msg: UserMessage{
			Message: "System is busy processing other runs",
			Action:  "Please wait a moment and try again",
			Code:    "RUN002",
		},
	},
	{
		pattern: "context canceled",
		msg:     kindMessages[KindCancelled],
	},
	{
		pattern: "context deadline exceeded",
		msg:     kindMessages[KindCancelled],
	},
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date",
			Action:  "Use YYYY-MM-DD",
			Code:    "IN001",
		},
	},
	{
		pattern: "invalid snapshot file",
		msg: UserMessage{
			Message: "Snapshot file could not be parsed",
			Action:  "Upload a CSV with a header row or a JSON array of objects",
			Code:    "IN002",
		},
	},
	{
		pattern: "empty snapshot file",
		msg: UserMessage{
			Message: "Snapshot file is empty",
			Action:  "Upload a file with a header and at least one record",
			Code:    "IN003",
		},
	},
	{
		pattern: "customer id is required",
		msg: UserMessage{
			Message: "Customer id is required",
			Action:  "Pass the Google Ads customer id, e.g. customer=123-456-7890",
			Code:    "IN004",
		},
	},
	{
		pattern: "unknown project",
		msg:     projectMessage,
	},
	{
		pattern: "no projects configured",
		msg:     projectMessage,
	},
	{
		pattern: "connection refused",
		msg:     kindMessages[KindSourceUnavailable],
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	err := &DiffError{Kind: KindDuplicateIdentity, Msg: "..."}
//	msg := MapError(err)
//	// msg.Code == "DQ001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if errors.Is(err, ErrTooManyRuns) {
		return errorPatterns[0].msg
	}
	if kind := KindOf(err); kind != KindInternal {
		if msg, ok := kindMessages[kind]; ok {
			return msg
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
