package validators

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

type samplePayload struct {
	Name  string          `json:"name" validate:"required,min=1,max=10"`
	Price decimal.Decimal `json:"price" validate:"gte=0"`
}

func jsonRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBody(t *testing.T) {
	var ok samplePayload
	require.NoError(t, DecodeJSONBody(jsonRequest(`{"name":"pro","price":"1.50"}`), &ok))
	assert.Equal(t, "pro", ok.Name)
	assert.True(t, ok.Price.Equal(decimal.RequireFromString("1.5")))

	cases := map[string]string{
		"unknown field": `{"name":"pro","extra":1}`,
		"trailing":      `{"name":"pro"}{"name":"x"}`,
		"negative":      `{"name":"pro","price":-1}`,
		"missing name":  `{"price":1}`,
		"malformed":     `{"name":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var dest samplePayload
			err := DecodeJSONBody(jsonRequest(body), &dest)
			var typed *pkgerrors.Error
			require.True(t, errors.As(err, &typed), "expected typed error, got %v", err)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestValidationDetailsUseJSONNames(t *testing.T) {
	var dest samplePayload
	err := DecodeJSONBody(jsonRequest(`{"name":"much-too-long-name"}`), &dest)
	var typed *pkgerrors.Error
	require.True(t, errors.As(err, &typed))
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be at most 10", details["name"])
}

func TestSanitizeList(t *testing.T) {
	assert.Nil(t, SanitizeList(nil, 10))
	assert.Equal(t, []string{}, SanitizeList([]string{" ", ""}, 10))
	assert.Equal(t, []string{"api", "sso"}, SanitizeList([]string{" api ", "sso", "api", ""}, 10))
	assert.Equal(t, []string{"abc"}, SanitizeList([]string{"abcdef"}, 3))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 0))
	assert.Equal(t, "he", SanitizeString(" hello", 2))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&limit=abc&big=1000", nil)

	v, err := ParseQueryInt(req, "page", 1, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = ParseQueryInt(req, "missing", 7, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = ParseQueryInt(req, "limit", 1, 1, 100)
	assert.Error(t, err)
	_, err = ParseQueryInt(req, "big", 1, 1, 100)
	assert.Error(t, err)
}

func TestParseQueryBool(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?active=false&bad=maybe", nil)

	v, err := ParseQueryBool(req, "active")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.False(t, *v)

	v, err = ParseQueryBool(req, "absent")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseQueryBool(req, "bad")
	assert.Error(t, err)
}

func withParam(name, value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/"+url.PathEscape(value), nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestPathParams(t *testing.T) {
	id := uuid.New()
	got, err := ParseUUIDParam(withParam("planId", id.String()), "planId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(withParam("planId", "nope"), "planId")
	assert.Error(t, err)

	user, err := PathParam(withParam("userId", " u1 "), "userId", 8)
	require.NoError(t, err)
	assert.Equal(t, "u1", user)

	_, err = PathParam(withParam("userId", "0123456789"), "userId", 8)
	assert.Error(t, err)
}
