package handler

import (
	"net/url"
	"strings"
)

// DefaultReturnTo is where a login lands without a usable return_to.
const DefaultReturnTo = "/admin"

// safeReturnTo keeps raw only when it is a local absolute path.
func safeReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n") {
		return DefaultReturnTo
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return DefaultReturnTo
	}
	return u.RequestURI()
}
