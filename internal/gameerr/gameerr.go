package gameerr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodePlayerNotFound       Code = "PLAYER_NOT_FOUND"
	CodeStateVersionMismatch Code = "STATE_VERSION_MISMATCH"
	CodeGameAlreadyCompleted Code = "GAME_ALREADY_COMPLETED"
	CodeResultNotReady       Code = "RESULT_NOT_READY"
	CodeTurnNotAvailable     Code = "TURN_NOT_AVAILABLE"
	CodeChipInsufficient     Code = "CHIP_INSUFFICIENT"
	CodePlayerCountInvalid   Code = "PLAYER_COUNT_INVALID"
	CodePlayerIDInvalid      Code = "PLAYER_ID_INVALID"
	CodePlayerNameInvalid    Code = "PLAYER_NAME_INVALID"
	CodePlayerIDNotUnique    Code = "PLAYER_ID_NOT_UNIQUE"
	CodePlayerOrderInvalid   Code = "PLAYER_ORDER_INVALID"
	CodeActionNotSupported   Code = "ACTION_NOT_SUPPORTED"
)

// Error is a tagged domain failure. Two errors match under errors.Is when
// their codes are equal, so the package-level sentinels can be compared
// against errors carrying a more specific message.
type Error struct {
	Code    Code
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var ErrSessionNotFound = &Error{Code: CodeSessionNotFound, Status: http.StatusNotFound, Message: "session not found"}
var ErrPlayerNotFound = &Error{Code: CodePlayerNotFound, Status: http.StatusNotFound, Message: "player not found"}
var ErrStateVersionMismatch = &Error{Code: CodeStateVersionMismatch, Status: http.StatusConflict, Message: "state version mismatch"}
var ErrGameAlreadyCompleted = &Error{Code: CodeGameAlreadyCompleted, Status: http.StatusConflict, Message: "game already completed"}
var ErrResultNotReady = &Error{Code: CodeResultNotReady, Status: http.StatusConflict, Message: "result not ready"}
var ErrTurnNotAvailable = &Error{Code: CodeTurnNotAvailable, Status: http.StatusUnprocessableEntity, Message: "turn not available"}
var ErrChipInsufficient = &Error{Code: CodeChipInsufficient, Status: http.StatusUnprocessableEntity, Message: "no chips left to place"}
var ErrPlayerCountInvalid = &Error{Code: CodePlayerCountInvalid, Status: http.StatusUnprocessableEntity, Message: "player count invalid"}
var ErrPlayerIDInvalid = &Error{Code: CodePlayerIDInvalid, Status: http.StatusUnprocessableEntity, Message: "player id invalid"}
var ErrPlayerNameInvalid = &Error{Code: CodePlayerNameInvalid, Status: http.StatusUnprocessableEntity, Message: "player name invalid"}
var ErrPlayerIDNotUnique = &Error{Code: CodePlayerIDNotUnique, Status: http.StatusUnprocessableEntity, Message: "player id not unique"}
var ErrPlayerOrderInvalid = &Error{Code: CodePlayerOrderInvalid, Status: http.StatusUnprocessableEntity, Message: "player order invalid"}
var ErrActionNotSupported = &Error{Code: CodeActionNotSupported, Status: http.StatusUnprocessableEntity, Message: "action not supported"}

// New copies base and replaces its message.
func New(base *Error, format string, args ...any) *Error {
	return &Error{Code: base.Code, Status: base.Status, Message: fmt.Sprintf(format, args...)}
}

// As extracts the first tagged error in err's chain. Errors aggregated with
// multierr are searched in order.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
