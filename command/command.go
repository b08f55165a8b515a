// Package command exposes the closed set of commands external callers may
// issue: session lifecycle, captures, frame operations, and state queries.
// Each command is a typed request with its own handler; the registry is
// exhaustive, so an unregistered name can only fail with UnknownCommand.
package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/fieldtrail/auth"
	"github.com/hazyhaar/fieldtrail/remote"
	"github.com/hazyhaar/fieldtrail/trail"
)

// Name identifies a command on the wire.
type Name string

const (
	GetState           Name = "get_state"
	Login              Name = "login"
	Logout             Name = "logout"
	StartSession       Name = "start_session"
	RenameSession      Name = "rename_session"
	PauseSession       Name = "pause_session"
	ResumeSession      Name = "resume_session"
	EndSession         Name = "end_session"
	CaptureText        Name = "capture_text"
	CaptureURL         Name = "capture_url"
	DeleteCaptured     Name = "delete_captured"
	SaveToDatabase     Name = "save_to_database"
	ClearTrail         Name = "clear_trail"
	CaptureFramesRange Name = "capture_frames_in_range"
	GetVideoTime       Name = "get_video_time"
)

// Request is one inbound command envelope.
type Request struct {
	Command Name            `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the single reply every dispatch produces. Exactly one of
// Result and Error is set.
type Response struct {
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the wire form of a failed command.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errNoRemote = errors.New("no research database configured")

// UnknownCommandError is returned for a name outside the closed set.
type UnknownCommandError struct {
	Name Name
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("command: unknown command %q", e.Name)
}

// BadPayloadError is returned when a payload does not decode into the
// command's request type.
type BadPayloadError struct {
	Name  Name
	Cause error
}

func (e *BadPayloadError) Error() string {
	return fmt.Sprintf("command: bad payload for %q: %v", e.Name, e.Cause)
}

func (e *BadPayloadError) Unwrap() error { return e.Cause }

// errorCode maps the error taxonomy to wire codes.
func errorCode(err error) string {
	var (
		unknown  *UnknownCommandError
		payload  *BadPayloadError
		stateErr *trail.StateError
		authErr  *trail.AuthError
		notFound *trail.NotFoundError
		remErr   *remote.Error
	)
	switch {
	case errors.As(err, &unknown):
		return "unknown_command"
	case errors.As(err, &payload):
		return "bad_request"
	case errors.As(err, &stateErr):
		return "state_error"
	case errors.As(err, &authErr), errors.Is(err, auth.ErrInvalidCredentials):
		return "auth_error"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &remErr):
		return "remote_error"
	default:
		return "internal"
	}
}

func failure(err error) Response {
	return Response{Error: &ErrorBody{Code: errorCode(err), Message: err.Error()}}
}

func success(result any) Response {
	return Response{OK: true, Result: result}
}
