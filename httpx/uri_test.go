package httpx

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want URI
	}{
		{
			name: "absolute",
			in:   "http://user@Example.com:8080/a%20b/c?x=1&y=two#frag",
			want: URI{
				Scheme: "http", User: "user", Host: "Example.com", Port: 8080,
				Path: "/a b/c", RawPath: "/a%20b/c", RawQuery: "x=1&y=two",
				Query:    Values{{"x", "1"}, {"y", "two"}},
				Fragment: "frag",
			},
		},
		{
			name: "ipv6",
			in:   "https://[::1]:8443/",
			want: URI{Scheme: "https", Host: "::1", Port: 8443, Path: "/", RawPath: "/"},
		},
		{
			name: "no path",
			in:   "http://example.com",
			want: URI{Scheme: "http", Host: "example.com"},
		},
		{
			name: "origin form",
			in:   "/search?tag=a&tag=b",
			want: URI{Path: "/search", RawPath: "/search", RawQuery: "tag=a&tag=b", Query: Values{{"tag", "a"}, {"tag", "b"}}},
		},
		{
			name: "asterisk",
			in:   "*",
			want: URI{Path: "*", RawPath: "*"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURI(tt.in)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, *got, cmpopts.IgnoreFields(URI{}, "Raw"), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ParseURI(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseURIRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"example.com/path",
		"http://",
		"http://host:0/",
		"http://host:65536/",
		"http://host:port/",
		"http://[::1/",
		"/bad%zzescape",
		"/p?x=%zz",
	} {
		_, err := ParseURI(in)
		assert.Truef(t, errors.Is(err, ErrMalformedURI), "%q: err = %v", in, err)
	}
}

func TestURIStringReparses(t *testing.T) {
	for _, in := range []string{
		"http://example.com:8080/a%2Fb/c?q=1&q=2#top",
		"https://[2001:db8::1]/x",
		"/plain/path?k=v%20w",
		"http://h/with%20space",
	} {
		u, err := ParseURI(in)
		require.NoError(t, err)
		again, err := ParseURI(u.String())
		require.NoError(t, err)
		if diff := cmp.Diff(u, again, cmpopts.IgnoreFields(URI{}, "Raw")); diff != "" {
			t.Errorf("%q reparse mismatch (-first +second):\n%s", in, diff)
		}
	}
}

func TestURIStringFromFields(t *testing.T) {
	u := &URI{Scheme: "http", Host: "h", Port: 81, Path: "/a b", Query: Values{{"k", "v w"}}}
	assert.Equal(t, "http://h:81/a%20b?k=v+w", u.String())
	assert.Equal(t, "/a%20b?k=v+w", u.RequestURI())
	assert.Equal(t, "h:81", u.HostPort())
}

func TestValues(t *testing.T) {
	q, err := ParseQuery("tag=a&tag=b&x=&y")
	require.NoError(t, err)
	assert.Equal(t, "a", q.Get("tag"))
	assert.Equal(t, []string{"a", "b"}, q.All("tag"))
	assert.True(t, q.Has("y"))
	assert.Equal(t, "", q.Get("y"))
	assert.Equal(t, []string{"tag", "x", "y"}, q.Keys())
}

func TestURIEffectivePort(t *testing.T) {
	u, _ := ParseURI("https://example.com/")
	assert.Equal(t, 443, u.EffectivePort())
	assert.Equal(t, PoolKey{Scheme: "https", Host: "example.com", Port: 443}, KeyFor(u))
	u, _ = ParseURI("http://example.com/")
	assert.Equal(t, "example.com:80", u.HostPort())
}

func TestURIResolve(t *testing.T) {
	base, err := ParseURI("http://a.example:8080/b/c/d?q=1")
	require.NoError(t, err)
	tests := map[string]string{
		"/new":                   "http://a.example:8080/new",
		"g":                      "http://a.example:8080/b/c/g",
		"../g?x=y":               "http://a.example:8080/b/g?x=y",
		"./":                     "http://a.example:8080/b/c/",
		"?z=2":                   "http://a.example:8080/b/c/d?z=2",
		"#f":                     "http://a.example:8080/b/c/d?q=1#f",
		"//other.example/p":      "http://other.example/p",
		"https://secure.example": "https://secure.example",
	}
	for ref, want := range tests {
		got, err := base.Resolve(ref)
		if assert.NoError(t, err, ref) {
			assert.Equal(t, want, got.String(), ref)
		}
	}
}
