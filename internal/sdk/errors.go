package sdk

import "fmt"

// CodeError is returned when the remote API answers with a non-zero error code.
type CodeError struct {
	Svc    string
	Code   int
	Reason string
}

func (e *CodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: error %d (%s)", e.Svc, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: error %d", e.Svc, e.Code)
}

var errorTexts = map[int]string{
	0:    "Successful operation",
	1:    "Invalid session",
	2:    "Invalid service name",
	3:    "Invalid result",
	4:    "Invalid input",
	5:    "Error performing request",
	6:    "Unknown error",
	7:    "Access denied",
	8:    "Invalid user name or password",
	9:    "Authorization server is unavailable",
	10:   "Reached limit of concurrent requests",
	11:   "Password reset error",
	14:   "Billing error",
	1001: "No messages for selected interval",
	1002: "Item with such unique property already exists or item cannot be created according to billing restrictions",
	1003: "Only one request is allowed at the moment",
	1004: "Limit of messages has been exceeded",
	1005: "Execution time has exceeded the limit",
	1006: "Exceeding the limit of attempts to enter a two-factor authorization code",
	1011: "Your IP has changed or session has expired",
	2014: "Selected user is a creator for some system objects, thus this user cannot be bound to a new account",
	2015: "Sensor deleting is forbidden because of using in another sensor or advanced properties of the unit",
}

// ErrorText resolves a remote API error code to its human-readable text.
func (c *Client) ErrorText(code int) string {
	if text, ok := errorTexts[code]; ok {
		return text
	}
	return fmt.Sprintf("Unknown error code %d", code)
}
