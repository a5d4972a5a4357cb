package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/Additional-Code/umkm/internal/entity"
)

func serve(headers map[string]string) (*httptest.ResponseRecorder, entity.Actor) {
	e := echo.New()
	var seen entity.Actor
	e.GET("/", func(c echo.Context) error {
		seen = ActorFrom(c)
		return c.NoContent(http.StatusNoContent)
	}, Actor())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestActorAccepted(t *testing.T) {
	rec, actor := serve(map[string]string{HeaderUserID: "u-1", HeaderUserRole: "Owner"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, entity.Actor{UserID: "u-1", Role: entity.ActorOwner}, actor)
}

func TestActorRejected(t *testing.T) {
	cases := map[string]map[string]string{
		"no headers":   {},
		"no user":      {HeaderUserRole: "customer"},
		"unknown role": {HeaderUserID: "u-1", HeaderUserRole: "superuser"},
	}
	for name, headers := range cases {
		t.Run(name, func(t *testing.T) {
			rec, actor := serve(headers)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Zero(t, actor)
		})
	}
}
