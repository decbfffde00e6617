package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
)

type pullBody struct {
	Days int `json:"days"`
}

func (p *pullBody) Validate() error {
	if p.Days > 366 {
		return pkgerrors.New(pkgerrors.CodeValidation, "days out of range")
	}
	return nil
}

func newRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
}

func TestDecodeJSONBody(t *testing.T) {
	var dest pullBody
	require.NoError(t, DecodeJSONBody(newRequest(`{"days":3}`), &dest))
	assert.Equal(t, 3, dest.Days)
}

func TestDecodeJSONBodyEmptyBodyIsZeroValue(t *testing.T) {
	var dest pullBody
	require.NoError(t, DecodeJSONBody(newRequest(""), &dest))
	assert.Zero(t, dest.Days)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	var dest pullBody
	err := DecodeJSONBody(newRequest(`{"weeks":1}`), &dest)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestDecodeJSONBodyRunsValidate(t *testing.T) {
	var dest pullBody
	err := DecodeJSONBody(newRequest(`{"days":400}`), &dest)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}
