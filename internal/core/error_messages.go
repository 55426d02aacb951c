package core

// error_messages.go maps technical errors to user-facing messages with a
// code that support can look up.
//
// # Archive errors (ARC001-ARC099)
//
//	ARC001 - Malformed archive: the file is not well-formed XML
//	ARC002 - Unexpected element: the file is XML but not an archive
//	ARC003 - Invalid column type: a column carries an unknown type code
//	ARC004 - Read failure: the upload was interrupted while reading
//	ARC005 - Write failure: the export could not be written
//	ARC006 - Nothing to export: no tables are registered
//	ARC007 - Invalid request: a table name or key is missing
//	ARC008 - Archive too large: the upload exceeds the size limit
//	ARC009 - No archive: the request carried no archive file
//
// # Store errors (STO001-STO099)
//
//	STO001 - Unknown table: the database has no such table
//	STO002 - Restore unavailable: the store is read-only
//	STO003 - Table not registered: the table is outside the export list
//	STO004 - Duplicate key: archived rows collide on a unique key
//	STO005 - Foreign key: a referenced row is missing
//	STO006 - Connection: the database is unreachable
//
// # Job errors (JOB001-JOB099)
//
//	JOB001 - System busy: too many archive jobs are running
//	JOB002 - Cancelled: the request was cancelled
//	JOB003 - Timed out: the job ran past its time limit
//
// # Default (ERR000)
//
//	ERR000 - Unknown error: check the server log for the job id
//
// Sentinel errors are matched with errors.Is, in order. Driver errors that
// have no sentinel are matched by message, case-insensitively.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/dbarchive/internal/archive"
	"github.com/JonMunkholm/dbarchive/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorTarget struct {
	target error
	msg    UserMessage
}

// errorTargets is checked before errorPatterns. Context and size errors
// come before the archive errors because a parse cut short by either also
// reports ErrParseIO.
var errorTargets = []errorTarget{
	{context.DeadlineExceeded, UserMessage{"The job timed out", "Try again with fewer tables or a smaller archive", "JOB003"}},
	{context.Canceled, UserMessage{"The request was cancelled", "Please try again", "JOB002"}},
	{ErrTooManyJobs, UserMessage{"The system is busy with other archive jobs", "Please wait a moment and try again", "JOB001"}},

	{ErrArchiveTooLarge, UserMessage{"The archive exceeds the maximum upload size", "Split the export or raise ARCHIVE_MAX_UPLOAD_SIZE", "ARC008"}},
	{archive.ErrUnexpectedTag, UserMessage{"The file is not a database archive", "Upload a file produced by export", "ARC002"}},
	{archive.ErrInvalidColumnType, UserMessage{"The archive contains an unknown column type", "Check that the archive was not edited by hand", "ARC003"}},
	{archive.ErrMalformedDocument, UserMessage{"The archive is not well-formed XML", "Check that the file is complete and not truncated", "ARC001"}},
	{archive.ErrParseIO, UserMessage{"The archive could not be read", "Please upload the file again", "ARC004"}},
	{archive.ErrEncodingFailed, UserMessage{"The archive could not be written", "Please try again", "ARC005"}},
	{archive.ErrNoTablesRegistered, UserMessage{"No tables are configured for export", "Configure ARCHIVE_TABLES or enable discovery", "ARC006"}},
	{archive.ErrInvalidArgument, UserMessage{"A table name or primary key is missing", "Check the table configuration", "ARC007"}},
	{ErrInvalidTableSpec, UserMessage{"A table name or primary key is missing", "Check the table configuration", "ARC007"}},

	{store.ErrUnknownTable, UserMessage{"A table does not exist in the database", "Check the table names in the configuration", "STO001"}},
	{ErrRestoreUnsupported, UserMessage{"This store cannot be restored into", "Use a writable database connection", "STO002"}},
	{ErrTableNotRegistered, UserMessage{"The table is not in the export list", "Register the table before exporting or restoring it", "STO003"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"no archive provided", UserMessage{"No archive was uploaded", "Send the archive as the request body or a \"file\" form field", "ARC009"}},
	{"duplicate key", UserMessage{"Archived rows collide on a unique key", "Check the archive for duplicate primary keys", "STO004"}},
	{"unique constraint", UserMessage{"Archived rows collide on a unique key", "Check the archive for duplicate primary keys", "STO004"}},
	{"foreign key", UserMessage{"A referenced record does not exist", "Include the parent tables in the archive", "STO005"}},
	{"connection refused", UserMessage{"Unable to connect to the database", "Please try again in a few moments", "STO006"}},
	{"connection reset", UserMessage{"The database connection was interrupted", "Please try again", "STO006"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. A nil error
// maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, et := range errorTargets {
		if errors.Is(err, et.target) {
			return et.msg
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

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than
// ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
