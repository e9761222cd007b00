package executor

import (
	"fmt"
	"strings"

	"github.com/kitehq/kite/internal/domain"
)

// shouldRetry decides whether another attempt follows a failed one. Retries
// happen only for plain failures: timeouts and skips never retry, the
// attempt budget is 1+maxRetries, and a non-empty retryOn list restricts
// retries to matching errors.
func shouldRetry(segment *domain.Segment, err error, attemptsUsed int) bool {
	if err == nil {
		return false
	}
	if attemptsUsed >= segment.MaxAttempts() {
		return false
	}
	return retryMatches(segment.RetryOn, err)
}

// retryMatches reports whether an error matches the retryOn filter. An empty
// filter matches everything. Matching is substring containment over the
// error's type names (package-qualified and bare) and its message, which
// preserves the permissive semantics of listing e.g. "IOException" to mean
// any I/O-shaped failure.
func retryMatches(retryOn []string, err error) bool {
	if len(retryOn) == 0 {
		return true
	}
	names := errorNames(err)
	for _, pattern := range retryOn {
		for _, name := range names {
			if strings.Contains(name, pattern) {
				return true
			}
		}
	}
	return false
}

// errorNames collects the candidate strings retryOn patterns match against:
// the qualified type name, the bare type name, and the error text, for the
// error itself and every wrapped cause.
func errorNames(err error) []string {
	var names []string
	for e := err; e != nil; e = unwrap(e) {
		qualified := fmt.Sprintf("%T", e)
		names = append(names, qualified)
		if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
			names = append(names, qualified[i+1:])
		}
		names = append(names, e.Error())
	}
	return names
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}
