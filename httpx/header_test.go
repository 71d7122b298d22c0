package httpx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderCaseInsensitiveLookup(t *testing.T) {
	h := NewHeader()
	h.Add("x-foo", "a")
	h.Add("X-Foo", "b")
	assert.Equal(t, "a", h.Get("X-FOO"))
	assert.Equal(t, []string{"a", "b"}, h.Values("x-FOO"))
	assert.Equal(t, 2, h.Len())

	h.Set("content-type", "text/plain")
	assert.Equal(t, "text/plain", h.Get("Content-Type"))

	h.Del("X-FOO")
	assert.False(t, h.Has("x-foo"))
	assert.Equal(t, "", h.Get("X-Foo"))
}

func TestHeaderSetReplacesInPlace(t *testing.T) {
	h := NewHeader()
	h.Add("A", "1")
	h.Add("b", "2")
	h.Add("C", "3")
	h.Add("B", "4")
	h.Set("B", "5")

	var got []string
	h.Each(func(name, value string) { got = append(got, name+"="+value) })
	assert.Equal(t, []string{"A=1", "B=5", "C=3"}, got)
	assert.Equal(t, []string{"5"}, h.Values("b"))
}

func TestHeaderKeepsRepeatedFields(t *testing.T) {
	h := NewHeader()
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	require.Len(t, h.wire(), 2)
	assert.Equal(t, "Set-Cookie", h.wire()[1].Name)
	assert.Equal(t, "b=2", h.wire()[1].Value)
}

func TestHeaderHasToken(t *testing.T) {
	h := NewHeader()
	h.Add("Connection", "keep-alive, Upgrade")
	h.Add("Connection", "CLOSE")
	assert.True(t, h.HasToken("connection", "close"))
	assert.True(t, h.HasToken("Connection", "upgrade"))
	assert.False(t, h.HasToken("Connection", "clos"))
}

func TestHeaderCloneIsIndependent(t *testing.T) {
	h := NewHeader()
	h.Add("X-A", "1")
	c := h.Clone()
	c.Set("X-A", "2")
	c.Add("X-B", "3")
	assert.Equal(t, "1", h.Get("X-A"))
	assert.False(t, h.Has("X-B"))
	assert.False(t, h.Equal(c))
	assert.True(t, h.Equal(h.Clone()))
}

func TestNilHeaderReads(t *testing.T) {
	var h *Header
	assert.Equal(t, "", h.Get("X"))
	assert.Nil(t, h.Values("X"))
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.HasToken("Connection", "close"))
	assert.Equal(t, 0, h.Clone().Len())
}

func TestHeaderCarrierKeys(t *testing.T) {
	h := NewHeader()
	h.Add("Traceparent", "x")
	h.Add("X-A", "1")
	h.Add("x-a", "2")
	c := HeaderCarrier{H: h}
	assert.Equal(t, []string{"traceparent", "x-a"}, c.Keys())
	c.Set("baggage", "k=v")
	assert.Equal(t, "k=v", h.Get("Baggage"))
}
