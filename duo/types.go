package duo

// envelope is the uniform wrapper present on every API response. Stat is
// "OK" on success; Code and Message are only populated on failure. The
// payload type varies per endpoint.
type envelope[T any] struct {
	Stat     string  `json:"stat"`
	Response T       `json:"response"`
	Code     *int64  `json:"code,omitempty"`
	Message  *string `json:"message,omitempty"`
}

// checkResult is the payload of /auth/v2/check.
type checkResult struct {
	// Time is the current server time as a Unix timestamp.
	Time int64 `json:"time"`
}

// PreauthResult describes whether and how a user can authenticate, as
// returned by /auth/v2/preauth.
type PreauthResult struct {
	// Result is one of "auth", "allow", "deny" or "enroll".
	Result string `json:"result"`
	// StatusMsg is a human readable description of the result.
	StatusMsg string `json:"status_msg"`
	// Devices lists the user's enrolled devices when Result is "auth".
	Devices []Device `json:"devices,omitempty"`
}

// Device is one enrolled authentication device of a user.
type Device struct {
	// ID is the opaque device identifier.
	ID string `json:"device"`
	// Type is the device type, e.g. "phone" or "token".
	Type string `json:"type"`
	// Name is the user-assigned device name, when set.
	Name string `json:"name,omitempty"`
	// Number is the masked phone number for phone devices.
	Number string `json:"number,omitempty"`
	// Capabilities lists the factors the device supports, e.g. "push".
	Capabilities []string `json:"capabilities,omitempty"`
}

// authResult is the payload of /auth/v2/auth in async mode.
type authResult struct {
	TxID string `json:"txid"`
}

// authStatusResult is the payload of /auth/v2/auth_status.
type authStatusResult struct {
	Result string `json:"result"`
}

// authStatus is the outcome of one status poll. Pending never escapes the
// polling loop; it only causes another iteration.
type authStatus int

const (
	statusPending authStatus = iota
	statusAllowed
	statusDenied
)
