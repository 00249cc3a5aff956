package oauth

import (
	"strings"
)

// Challenge is a parsed WWW-Authenticate header from a 401 response.
type Challenge struct {
	Scheme           string `json:"scheme,omitempty"`
	Realm            string `json:"realm,omitempty"`
	Scope            string `json:"scope,omitempty"`
	Error            string `json:"error,omitempty"`
	ResourceMetadata string `json:"resourceMetadata,omitempty"`
	// Endpoint is the URL that returned the challenge.
	Endpoint string `json:"endpoint,omitempty"`
}

// ParseChallenge parses a WWW-Authenticate header value of the form
// `Bearer realm="x", resource_metadata="https://..."`. An empty header
// yields a zero Challenge with Scheme "Bearer".
func ParseChallenge(header string) Challenge {
	ch := Challenge{Scheme: "Bearer"}
	header = strings.TrimSpace(header)
	if header == "" {
		return ch
	}

	scheme, rest, _ := strings.Cut(header, " ")
	if strings.Contains(scheme, "=") {
		rest = header
	} else {
		ch.Scheme = scheme
	}

	for key, value := range parseParams(rest) {
		switch strings.ToLower(key) {
		case "realm":
			ch.Realm = value
		case "scope":
			ch.Scope = value
		case "error":
			ch.Error = value
		case "resource_metadata":
			ch.ResourceMetadata = value
		}
	}
	return ch
}

// parseParams splits comma separated key=value pairs, honoring quoted
// values that contain commas.
func parseParams(s string) map[string]string {
	params := make(map[string]string)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " ,")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[:eq])
		s = strings.TrimLeft(s[eq+1:], " ")

		var value string
		if strings.HasPrefix(s, `"`) {
			s = s[1:]
			var b strings.Builder
			i := 0
			for ; i < len(s); i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
					b.WriteByte(s[i])
					continue
				}
				if s[i] == '"' {
					break
				}
				b.WriteByte(s[i])
			}
			value = b.String()
			if i < len(s) {
				s = s[i+1:]
			} else {
				s = ""
			}
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = strings.TrimSpace(s[:end])
			s = s[end:]
		}
		params[key] = value
	}
	return params
}
