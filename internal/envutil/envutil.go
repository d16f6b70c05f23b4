package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether AUTH_RELAY_ENV marks this process as a development
// deployment
func IsDev() bool {
	env := strings.ToLower(os.Getenv("AUTH_RELAY_ENV"))
	return env == "development" || env == "dev"
}
