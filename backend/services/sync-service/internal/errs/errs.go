// Package errs contains sentinel errors shared by the sync engine layers.
package errs

import "errors"

var (
	// ErrUnauthenticated means the caller presented no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied means the caller lacks the admin capability for impersonation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCredentialMissing means no vendor credential is stored for (user, provider).
	ErrCredentialMissing = errors.New("credential missing")
	// ErrCredentialExpired means the vendor rejected or could not refresh the credential.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrReauthRequired signals the user must link the vendor account again.
	ErrReauthRequired = errors.New("reauthentication required")

	// ErrRateLimited means the vendor answered 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrDeviceAsleep means the vendor reported the device as unreachable.
	ErrDeviceAsleep = errors.New("device asleep")
	// ErrDeviceUnavailable means the device stayed unreachable after wake attempts.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrTransient covers network failures and unexpected vendor statuses.
	ErrTransient = errors.New("transient vendor error")

	// ErrDuplicate indicates a unique key conflict on insert.
	ErrDuplicate = errors.New("duplicate key")
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownProvider means no adapter is registered for the provider name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// NeedsReauth reports whether err should surface as needsReauth to the caller.
func NeedsReauth(err error) bool {
	return errors.Is(err, ErrReauthRequired) ||
		errors.Is(err, ErrCredentialMissing) ||
		errors.Is(err, ErrCredentialExpired)
}
