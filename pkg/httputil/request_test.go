package httputil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryParam(t *testing.T) {
	r := httptest.NewRequest("GET", "/group-provisioner?userId=%20user1%20&empty=", nil)

	assert.Equal(t, "user1", QueryParam(r, "userId"))
	assert.Empty(t, QueryParam(r, "empty"))
	assert.Empty(t, QueryParam(r, "missing"))
}

func TestQueryParamDefault(t *testing.T) {
	r := httptest.NewRequest("GET", "/group-provisioner?idpName=oidc", nil)

	assert.Equal(t, "oidc", QueryParamDefault(r, "idpName", "saml-idp"))
	assert.Equal(t, "saml-idp", QueryParamDefault(r, "absent", "saml-idp"))
}

func TestRequireQueryParam(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/migration-step2?userId=user1", nil)
		rec := httptest.NewRecorder()
		v, ok := RequireQueryParam(rec, r, "userId")
		assert.True(t, ok)
		assert.Equal(t, "user1", v)
	})

	t.Run("missing writes 400", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/migration-step2", nil)
		rec := httptest.NewRecorder()
		_, ok := RequireQueryParam(rec, r, "userId")
		assert.False(t, ok)
		assert.Equal(t, 400, rec.Code)
		assert.Contains(t, rec.Body.String(), "userId parameter is required")
	})
}
