package delivery

import "strings"

// Permanent-failure signatures matched against send error text. This is
// a placeholder heuristic: SMTP gives no structured bounce codes here,
// so classification is by message inspection. Swap this for provider
// bounce codes when a structured ESP is wired in.
var permanentFailurePatterns = []string{
	"bounce",
	"bounced",
	"invalid recipient",
	"invalid address",
	"invalid mailbox",
	"does not exist",
	"not exist",
	"no such user",
	"user unknown",
	"mailbox unavailable",
	"address rejected",
	"550 5.1.1",
}

// IsPermanentFailure reports whether a send error is non-retryable:
// the recipient will never accept this message, so retrying only burns
// sender reputation.
func IsPermanentFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range permanentFailurePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
