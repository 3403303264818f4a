package game

import "errors"

var (
	ErrInvalidName        = errors.New("name must be between 1 and 32 characters")
	ErrInvalidPassword    = errors.New("password must have at least 4 characters")
	ErrUserExists         = errors.New("user already exists")
	ErrUnknownUser        = errors.New("unknown user")
	ErrInvalidCredentials = errors.New("invalid name or password")
	ErrInvalidMode        = errors.New("invalid mode")
	ErrInvalidCount       = errors.New("invalid card count")
	ErrCardLimit          = errors.New("card limit reached")
	ErrCardsLocked        = errors.New("cards cannot be added while a round is in progress")
	ErrGameInProgress     = errors.New("game in progress")
	ErrInvalidStartTime   = errors.New("invalid start time")
	ErrScheduleNotFound   = errors.New("scheduled game not found")
	ErrNotAdmin           = errors.New("not allowed to act as caller")
	ErrCallerTaken        = errors.New("caller lease held by another session")
	ErrNotCaller          = errors.New("session does not hold the caller lease")
	ErrStalePhase         = errors.New("action no longer applies to the current phase")
	ErrNoNumbersLeft      = errors.New("all numbers have been drawn")
	ErrNotAWinner         = errors.New("card is not a winner")
	ErrCardNotFound       = errors.New("card not found")
)
