package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRequestIsAnonymousWithoutAuthorizationHeader(t *testing.T) {
	var d *PrincipalDecoder
	req := httptest.NewRequest("POST", "/consult", nil)
	p := d.DecodeRequest(req)
	assert.Equal(t, Anonymous(), p)
}

func TestDecodeRequestIsAnonymousOnMalformedBearerToken(t *testing.T) {
	var d *PrincipalDecoder
	req := httptest.NewRequest("POST", "/consult", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	p := d.DecodeRequest(req)
	assert.Equal(t, Anonymous(), p)
}
