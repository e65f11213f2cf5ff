package remote

import "errors"

var (
	// ErrNonZeroExit is returned when the remote command exits with a status other than 0
	ErrNonZeroExit = errors.New("remote command exited with non-zero status")
	// ErrExitStatusMissing is returned when the session ends without reporting an exit status
	ErrExitStatusMissing = errors.New("remote command exited without status")
	// ErrSessionTimeout is returned when the session does not finish within its timeout
	ErrSessionTimeout = errors.New("remote session timed out")
)
