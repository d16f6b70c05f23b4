package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath joins path segments onto base, keeping a trailing slash on the
// last segment when present.
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	u.Path = path.Join(append([]string{u.Path}, paths...)...)
	if n := len(paths); n > 0 && strings.HasSuffix(paths[n-1], "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// RoutePath builds the mount path of an endpoint under a route prefix:
// RoutePath("auth", "/stateful") == "/auth/stateful".
func RoutePath(prefix, endpoint string) string {
	prefix = strings.Trim(prefix, "/")
	endpoint = strings.TrimPrefix(endpoint, "/")
	if prefix == "" {
		return "/" + endpoint
	}
	return "/" + prefix + "/" + endpoint
}

// StripRoutePrefix returns the endpoint part of requestPath below the mount
// path prefix, or "" when requestPath is not under it
func StripRoutePrefix(requestPath, prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return requestPath
	}
	mount := "/" + prefix + "/"
	if !strings.HasPrefix(requestPath, mount) {
		return ""
	}
	return requestPath[len(mount)-1:]
}
