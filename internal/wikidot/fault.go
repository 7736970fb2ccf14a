package wikidot

import (
	"errors"
	"fmt"
	"strings"
)

const (
	faultCodeForbidden = 403
	faultCodePageGone  = 406
)

// Fault is a structured error returned by the remote API, carrying the
// numeric fault code and message from the XML-RPC fault payload.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("wikidot fault %d: %s", f.Code, f.Message)
}

// IsPageGone reports whether err signals that the requested page no longer
// exists on the remote side. This is the single classification point for the
// message-substring match: anything that does not match exactly here is
// treated as a transport fault by callers, never as a deleted page.
func IsPageGone(err error) bool {
	var fault *Fault
	if !errors.As(err, &fault) {
		return false
	}
	if fault.Code != faultCodePageGone {
		return false
	}

	message := strings.ToLower(fault.Message)
	return strings.Contains(message, "page does not exist") ||
		strings.Contains(message, "page not found")
}

// IsForbidden reports whether err signals that API access is disabled for
// the site or page. Those are skipped with a warning rather than failing
// the run; the site owner has to enable API access on Wikidot.
func IsForbidden(err error) bool {
	var fault *Fault
	return errors.As(err, &fault) && fault.Code == faultCodeForbidden
}
