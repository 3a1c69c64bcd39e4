package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
)

func TestPersonas_CRUD(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/personas", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[PersonaListResponse](t, rec).Items, 4, "empty store lists the seeds")

	rec = env.do(t, http.MethodPost, "/api/personas", `{"userName":"Jan van Goyen","bio":"painter"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[personas.Persona](t, rec)
	assert.Equal(t, "jan-van-goyen", created.UserID)

	rec = env.do(t, http.MethodPost, "/api/personas", `{"userName":"Jan van Goyen"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "userId already exists", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/api/personas/jan-van-goyen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "painter", decode[personas.Persona](t, rec).Bio)

	rec = env.do(t, http.MethodPut, "/api/personas/jan-van-goyen", `{"bio":"landscapes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[personas.Persona](t, rec)
	assert.Equal(t, "landscapes", updated.Bio)
	assert.Equal(t, "Jan van Goyen", updated.UserName)

	rec = env.do(t, http.MethodPut, "/api/personas/jan-van-goyen", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No updatable fields provided", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPut, "/api/personas/nobody", `{"bio":"x"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/personas/jan-van-goyen", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/personas/jan-van-goyen", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Persona not found", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodDelete, "/api/personas/jan-van-goyen", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPersonas_CreateValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, body := range []string{`{"userName":"  "}`, `not json`, ``} {
		rec := env.do(t, http.MethodPost, "/api/personas", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "userName is required", decode[ErrorResponse](t, rec).Error)
	}

	rec := env.do(t, http.MethodGet, "/api/personas/%20", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "userId is required", decode[ErrorResponse](t, rec).Error)
}

func TestPersonas_WithoutStore(t *testing.T) {
	env := newTestEnv(t, envOptions{noPersonaStore: true})

	rec := env.do(t, http.MethodGet, "/api/personas", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[PersonaListResponse](t, rec).Items, 4)

	rec = env.do(t, http.MethodGet, "/api/personas/clusius", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/personas", `{"userName":"Anna"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Personas store not configured", decode[ErrorResponse](t, rec).Error)
}

func TestPersonas_EnrichOrders(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.do(t, http.MethodPost, "/api/personas", `{"userId":"anna","userName":"Anna","avatarUrl":"/a.png"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/orders", `{"side":"SELL","price":"3","quantity":1,"idempotencyKey":"k","userId":"anna"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/orders", "")
	items := decode[OrderListResponse](t, rec).Items
	require.Len(t, items, 1)
	assert.Equal(t, "Anna", items[0].UserName)
	assert.Equal(t, "/a.png", items[0].AvatarURL)
}
