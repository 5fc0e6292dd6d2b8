package extid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	t.Run("user reference", func(t *testing.T) {
		assert.Equal(t, "testuser;saml-idp", Encode("testuser", "saml-idp"))
	})

	t.Run("group reference", func(t *testing.T) {
		assert.Equal(t, "marketing;saml-idp", Encode("marketing", "saml-idp"))
	})

	t.Run("colon in local id is preserved", func(t *testing.T) {
		assert.Equal(t, "marketing:saml-idp;oidc", Encode("marketing:saml-idp", "oidc"))
	})

	t.Run("empty parts still produce separator", func(t *testing.T) {
		assert.Equal(t, ";", Encode("", ""))
	})
}
