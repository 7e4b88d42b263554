package observability

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHTTPClientWrapsDefaultTransportWhenNilBase(t *testing.T) {
	c := NewHTTPClient(nil)
	assert.NotNil(t, c.Transport)
}

func TestNewHTTPClientPreservesCustomTransport(t *testing.T) {
	base := &http.Client{Transport: http.DefaultTransport}
	c := NewHTTPClient(base)
	assert.Same(t, base, c)
	assert.NotNil(t, c.Transport)
}
