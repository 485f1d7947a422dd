package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maynagashev/fieldsync/internal/middleware"
	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
)

const testInspectionID = "22222222-2222-4222-8222-222222222222"

var (
	inspector = services.Actor{UserID: 7, Role: models.RoleInspector}
	manager   = services.Actor{UserID: 1, Role: models.RoleManager}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRequest создает запрос от имени actor, как после Authenticator.
func newRequest(method, target, body string, actor services.Actor) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, actor.UserID)
	ctx = context.WithValue(ctx, middleware.RoleKey, actor.Role)
	return req.WithContext(ctx)
}

// errorBody разбирает тело ошибки {"error":{"code","message"}}.
func errorBody(t *testing.T, rr *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Error.Code, body.Error.Message
}

// fixedIDs всегда возвращает один и тот же идентификатор.
type fixedIDs string

func (f fixedIDs) NewID() string { return string(f) }
