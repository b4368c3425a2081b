package validator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStruct struct {
	FirstName string `json:"firstName" validate:"required,max=10"`
	Email     string `json:"email" validate:"required,email"`
	ProjectID int64  `json:"projectId" validate:"gt=0"`
}

func TestValidate_Success(t *testing.T) {
	s := testStruct{FirstName: "Alice", Email: "alice@example.com", ProjectID: 1}
	assert.NoError(t, Validate(s))
}

func TestValidate_CollectsEveryField(t *testing.T) {
	err := Validate(testStruct{})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, []string{
		"FirstName is required.",
		"Email is required.",
		"ProjectId is invalid.",
	}, valErr.Messages())
}

func TestValidate_LengthAndEmail(t *testing.T) {
	err := Validate(testStruct{FirstName: strings.Repeat("a", 11), Email: "nope", ProjectID: 1})
	assert.Equal(t, []string{
		"FirstName exceeds the maximum allowed length.",
		"Valid email is required.",
	}, Messages(err))
}

func TestMessages_NilAndPlainError(t *testing.T) {
	assert.Nil(t, Messages(nil))
	assert.Equal(t, []string{"boom"}, Messages(errors.New("boom")))
}

func TestDecodeJSON(t *testing.T) {
	var dst testStruct
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"firstName":"Bob","projectId":3}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "Bob", dst.FirstName)
	assert.EqualValues(t, 3, dst.ProjectID)
}

func TestDecodeJSON_EmptyBody(t *testing.T) {
	var dst testStruct
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.NoError(t, DecodeJSON(req, &dst))
}

func TestDecodeJSON_Malformed(t *testing.T) {
	var dst testStruct
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"firstName":`))
	err := DecodeJSON(req, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}
