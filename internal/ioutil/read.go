package ioutil

import (
	"fmt"
	"io"
	"strings"
)

// ReadLimited reads at most limit bytes of an upstream response body for use
// in error messages and log fields. Surrounding whitespace is dropped. A read
// failure is described in the result rather than returned.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return strings.TrimSpace(string(body))
}
