package action

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyQueue marks a firing that found no work. It is neither a success
	// nor an attempt, and a recurring job reporting it is stopped.
	ErrEmptyQueue = errors.New("action queue empty")

	ErrUnknownAction = errors.New("unknown action")
)

// Blocked marks err as an abuse or rate-limit signal from the target service.
//
//	return action.Result{}, action.Blocked(fmt.Errorf("challenge page shown"))
func Blocked(err error) error {
	if err == nil {
		return nil
	}
	return blockedError{err: err}
}

type blockedError struct{ err error }

func (e blockedError) Error() string { return fmt.Sprintf("blocked: %v", e.err) }
func (e blockedError) Unwrap() error { return e.err }

// blockMarkers are matched case-insensitively against failure text.
var blockMarkers = []string{"BLOCK", "LIMIT", "TRY AGAIN"}

// IsBlocked reports whether err was wrapped with Blocked.
func IsBlocked(err error) bool {
	var e blockedError
	return errors.As(err, &e)
}

// BlockSignal reports whether a failure looks like an abuse or rate-limit
// response, either by typed error or by marker text in the error or message.
func BlockSignal(err error, message string) (string, bool) {
	if err == nil && strings.TrimSpace(message) == "" {
		return "", false
	}
	if IsBlocked(err) {
		return err.Error(), true
	}
	texts := []string{message}
	if err != nil {
		texts = append(texts, err.Error())
	}
	for _, s := range texts {
		up := strings.ToUpper(s)
		for _, m := range blockMarkers {
			if strings.Contains(up, m) {
				return strings.TrimSpace(s), true
			}
		}
	}
	return "", false
}

// IsEmptyQueue reports whether the outcome carries the empty-queue marker.
func IsEmptyQueue(res Result, err error) bool {
	return res.EmptyQueue || errors.Is(err, ErrEmptyQueue)
}
