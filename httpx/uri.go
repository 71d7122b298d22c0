package httpx

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URI is a decomposed resource identifier.
//
// Path and Query are percent-decoded; RawPath and RawQuery hold the text
// as it appeared so that String reproduces it. Port is zero when the
// authority carries none. Host never includes IPv6 brackets.
type URI struct {
	Scheme   string
	User     string
	Host     string
	Port     int
	Path     string
	RawPath  string
	RawQuery string
	Query    Values
	Fragment string
	// Raw is the text ParseURI was given.
	Raw string
}

// Param is one key=value pair of a query string.
type Param struct {
	Key   string
	Value string
}

// Values holds query parameters in arrival order. Repeated keys keep
// every value; Get is first-wins.
type Values []Param

// Get returns the first value for key.
func (v Values) Get(key string) string {
	for _, p := range v {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// All returns every value for key in arrival order.
func (v Values) All(key string) []string {
	var out []string
	for _, p := range v {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}
	return out
}

// Has reports whether key occurs at least once.
func (v Values) Has(key string) bool {
	for _, p := range v {
		if p.Key == key {
			return true
		}
	}
	return false
}

// Keys returns the distinct keys in first-occurrence order.
func (v Values) Keys() []string {
	seen := make(map[string]bool, len(v))
	var keys []string
	for _, p := range v {
		if !seen[p.Key] {
			seen[p.Key] = true
			keys = append(keys, p.Key)
		}
	}
	return keys
}

// Encode renders v as an application/x-www-form-urlencoded query.
func (v Values) Encode() string {
	var b strings.Builder
	for i, p := range v {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// ParseURI decomposes text in a single left-to-right scan. It accepts
// absolute URIs ("http://host:8080/p?q#f"), origin-form targets ("/p?q")
// and the asterisk form ("*"). No dot-segment normalization is applied.
func ParseURI(text string) (*URI, error) {
	u := &URI{Raw: text}
	rest := text
	if i := schemeEnd(rest); i > 0 {
		u.Scheme = strings.ToLower(rest[:i])
		rest = rest[i+len("://"):]
		end := strings.IndexAny(rest, "/?#")
		if end < 0 {
			end = len(rest)
		}
		authority := rest[:end]
		rest = rest[end:]
		if at := strings.LastIndexByte(authority, '@'); at >= 0 {
			u.User, authority = authority[:at], authority[at+1:]
		}
		host, port, err := splitAuthority(authority)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedURI, text, err)
		}
		u.Host, u.Port = host, port
	} else if rest == "*" {
		u.Path, u.RawPath = rest, rest
		return u, nil
	} else if !strings.HasPrefix(rest, "/") {
		return nil, fmt.Errorf("%w: %q: no scheme delimiter or absolute path", ErrMalformedURI, text)
	}

	if i := strings.IndexByte(rest, '#'); i >= 0 {
		u.Fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		u.RawQuery = rest[i+1:]
		rest = rest[:i]
	}
	u.RawPath = rest
	path, err := url.PathUnescape(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedURI, text, err)
	}
	u.Path = path
	if u.Query, err = parseQuery(u.RawQuery); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedURI, text, err)
	}
	return u, nil
}

// ParseQuery decodes a raw query string into Values.
func ParseQuery(raw string) (Values, error) {
	q, err := parseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}
	return q, nil
}

func parseQuery(raw string) (Values, error) {
	var q Values
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		q = append(q, Param{Key: key, Value: val})
	}
	return q, nil
}

// schemeEnd returns the index of "://" when it follows a valid scheme, or -1.
func schemeEnd(s string) int {
	i := strings.Index(s, "://")
	if i <= 0 {
		return -1
	}
	for j := 0; j < i; j++ {
		c := s[j]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case j > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return -1
		}
	}
	return i
}

func splitAuthority(authority string) (host string, port int, err error) {
	portText := ""
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated IPv6 literal")
		}
		host = authority[1:end]
		after := authority[end+1:]
		if after != "" {
			if after[0] != ':' {
				return "", 0, fmt.Errorf("unexpected %q after IPv6 literal", after)
			}
			portText = after[1:]
		}
	} else if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		host, portText = authority[:i], authority[i+1:]
	} else {
		host = authority
	}
	if host == "" {
		return "", 0, fmt.Errorf("empty host")
	}
	if portText != "" {
		port, err = strconv.Atoi(portText)
		if err != nil || port < 1 || port > 65535 || portText[0] == '+' {
			return "", 0, fmt.Errorf("bad port %q", portText)
		}
	}
	return host, port, nil
}

// String reassembles the full URI. Raw components are reused when they
// still describe Path and Query, so String of a parsed URI parses back to
// the same components.
func (u *URI) String() string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
		if u.User != "" {
			b.WriteString(u.User)
			b.WriteByte('@')
		}
		b.WriteString(u.Authority())
	}
	b.WriteString(u.EscapedPath())
	if q := u.EncodedQuery(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// EscapedPath returns the percent-encoded path.
func (u *URI) EscapedPath() string {
	if u.RawPath != "" {
		if p, err := url.PathUnescape(u.RawPath); err == nil && p == u.Path {
			return u.RawPath
		}
	}
	if u.Path == "*" {
		return u.Path
	}
	segs := strings.Split(u.Path, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// EncodedQuery returns the query string without the leading '?'.
func (u *URI) EncodedQuery() string {
	if u.RawQuery != "" {
		if q, err := parseQuery(u.RawQuery); err == nil && sameValues(q, u.Query) {
			return u.RawQuery
		}
	}
	return u.Query.Encode()
}

func sameValues(a, b Values) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RequestURI returns the origin-form request target: path and query.
func (u *URI) RequestURI() string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if q := u.EncodedQuery(); q != "" {
		p += "?" + q
	}
	return p
}

// Authority returns host[:port] as written in a Host header.
func (u *URI) Authority() string {
	host := u.Host
	if strings.IndexByte(host, ':') >= 0 {
		host = "[" + host + "]"
	}
	if u.Port != 0 {
		return host + ":" + strconv.Itoa(u.Port)
	}
	return host
}

// EffectivePort returns Port, or the scheme's default port when absent.
func (u *URI) EffectivePort() int {
	if u.Port != 0 {
		return u.Port
	}
	switch u.Scheme {
	case "https":
		return 443
	case "http":
		return 80
	}
	return 0
}

// HostPort returns the dialable "host:port" address.
func (u *URI) HostPort() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.EffectivePort()))
}

// IsAbs reports whether u carries a scheme and host.
func (u *URI) IsAbs() bool {
	return u.Scheme != "" && u.Host != ""
}

// Resolve resolves ref, typically a Location header value, against u.
func (u *URI) Resolve(ref string) (*URI, error) {
	if schemeEnd(ref) > 0 {
		return ParseURI(ref)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w: cannot resolve %q against relative %q", ErrMalformedURI, ref, u.String())
	}
	if strings.HasPrefix(ref, "//") {
		return ParseURI(u.Scheme + ":" + ref)
	}
	prefix := u.Scheme + "://" + u.Authority()
	if u.User != "" {
		prefix = u.Scheme + "://" + u.User + "@" + u.Authority()
	}
	switch {
	case strings.HasPrefix(ref, "/"):
		return ParseURI(prefix + ref)
	case ref == "" || ref[0] == '#':
		return ParseURI(prefix + u.RequestURI() + ref)
	case ref[0] == '?':
		return ParseURI(prefix + u.EscapedPath() + ref)
	}
	base := u.EscapedPath()
	dir := base[:strings.LastIndexByte(base, '/')+1]
	if dir == "" {
		dir = "/"
	}
	path, tail := ref, ""
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		path, tail = ref[:i], ref[i:]
	}
	return ParseURI(prefix + removeDotSegments(dir+path) + tail)
}

func removeDotSegments(p string) string {
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for i, s := range segs {
		last := i == len(segs)-1
		switch s {
		case ".":
			if last {
				out = append(out, "")
			}
		case "..":
			if len(out) > 1 {
				out = out[:len(out)-1]
			}
			if last {
				out = append(out, "")
			}
		default:
			out = append(out, s)
		}
	}
	r := strings.Join(out, "/")
	if !strings.HasPrefix(r, "/") {
		r = "/" + r
	}
	return r
}
