package admin

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Server error codes the role reacts to.
const (
	CodeUserNotFound                 = 11
	CodeUnauthorized                 = 13
	CodeAuthenticationFailed         = 18
	CodeAlreadyInitialized           = 23
	CodeCommandNotFound              = 59
	CodeNodeNotFound                 = 74
	CodeNoReplicationEnabled         = 76
	CodeInvalidReplicaSetConfig      = 93
	CodeNotYetInitialized            = 94
	CodeNewConfigIncompatible        = 103
	CodeConfigurationInProgress      = 109
	CodeCurrentConfigNotCommittedYet = 308
	CodeNotWritablePrimary           = 10107
	CodeNotPrimaryOrSecondary        = 13436
	CodeUserAlreadyExists            = 51003
)

// ErrUnreachable is the cause of every error caused by the daemon not
// answering at all.
var ErrUnreachable = errors.New("server unreachable")

// CommandError is an error reported by the server.
type CommandError struct {
	Code    int
	Name    string
	Message string
}

func (e *CommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%s) %s", e.Name, e.Message)
	}
	return fmt.Sprintf("command failed with code %d: %s", e.Code, e.Message)
}

// IsCode reports whether err is a server error with one of the given codes.
func IsCode(err error, codes ...int) bool {
	cmdErr, ok := errors.Cause(err).(*CommandError)
	if !ok {
		return false
	}
	for _, code := range codes {
		if cmdErr.Code == code {
			return true
		}
	}
	return false
}

// IsAuthError reports whether err was caused by missing or wrong credentials.
func IsAuthError(err error) bool {
	return IsCode(err, CodeAuthenticationFailed, CodeUnauthorized)
}

func IsUnreachable(err error) bool {
	return err != nil && errors.Cause(err) == ErrUnreachable
}

// isAuthMessage catches authentication failures that the driver reports
// from the connection handshake rather than as a command error.
func isAuthMessage(msg string) bool {
	return strings.Contains(msg, "AuthenticationFailed") ||
		strings.Contains(msg, "auth error") ||
		strings.Contains(msg, "Authentication failed")
}
