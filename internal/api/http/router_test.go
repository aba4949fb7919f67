package http

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/modmail/internal/api/http/handlers"
	"github.com/spec-kit/modmail/internal/auth"
	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/observability"
	"github.com/spec-kit/modmail/internal/repository"
	"github.com/spec-kit/modmail/internal/service"
	"github.com/spec-kit/modmail/internal/transport"
	"github.com/spec-kit/modmail/internal/transport/transporttest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type apiFixture struct {
	t         *testing.T
	app       *fiber.App
	clock     *clock.FakeClock
	tr        *transporttest.Recorder
	lifecycle *service.LifecycleService
	token     string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	return newAPIFixtureWithConfig(t, fiber.Config{Immutable: true})
}

func newAPIFixtureWithConfig(t *testing.T, appCfg fiber.Config) *apiFixture {
	t.Helper()
	clk := clock.Fake(start)
	recorder := transporttest.NewRecorder()
	metrics := observability.NewMetrics()
	store := repository.NewTicketStore(1, clk, nil)
	lifecycle := service.NewLifecycleService(config.TicketConfig{
		LimitPerUser:       1,
		AutoCloseHours:     48,
		DeleteDelaySeconds: 5,
		Categories:         []string{"Support", "Development", "Billing", "Urgent"},
	}, service.LifecycleDependencies{Store: store, Transport: recorder, Clock: clk, Metrics: metrics})

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	authService := service.NewAuthService(config.AuthConfig{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 30,
		StaffUsername:         "staff",
		StaffPasswordHash:     string(hash),
	}, clk, nil)

	app := fiber.New(appCfg)
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("modmail-relay", "test", nil, nil),
		Staff:          handlers.NewStaffHandler(authService, lifecycle, metrics),
		Tickets:        handlers.NewTicketsHandler(lifecycle),
		Users:          handlers.NewUsersHandler(lifecycle),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
	})

	f := &apiFixture{t: t, app: app, clock: clk, tr: recorder, lifecycle: lifecycle}
	_, _, err = lifecycle.OpenTicket(context.Background(), service.OpenTicketInput{
		User:     transport.User{ID: "100", Name: "alice"},
		Category: "Support",
	})
	require.NoError(t, err)
	return f
}

func (f *apiFixture) login() {
	f.t.Helper()
	status, body := f.do(fiber.MethodPost, "/auth/staff/login", `{"username":"staff","password":"hunter2"}`, false)
	require.Equal(f.t, fiber.StatusOK, status, body)
	data := body["data"].(map[string]any)
	f.token = data["auth"].(map[string]any)["token"].(string)
	require.NotEmpty(f.t, f.token)
}

func (f *apiFixture) do(method, path, payload string, authorized bool) (int, map[string]any) {
	f.t.Helper()
	var reader io.Reader
	if payload != "" {
		reader = strings.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if payload != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if authorized {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+f.token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	body := map[string]any{}
	require.NoError(f.t, json.Unmarshal(raw, &body), string(raw))
	return resp.StatusCode, body
}

func errorCode(body map[string]any) string {
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(fiber.MethodGet, "/health/live", "", false)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = f.do(fiber.MethodGet, "/health/ready", "", false)
	assert.Equal(t, fiber.StatusOK, status)
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "disabled", deps["postgres"])
	assert.Equal(t, "disabled", deps["redis"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(fiber.MethodGet, "/tickets", "", false)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, body = f.do(fiber.MethodPost, "/auth/staff/login", `{"username":"staff","password":"wrong"}`, false)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, body = f.do(fiber.MethodPost, "/auth/staff/login", `{"username":""}`, false)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestListAndGetTickets(t *testing.T) {
	f := newAPIFixture(t)
	f.login()

	status, body := f.do(fiber.MethodGet, "/tickets", "", true)
	require.Equal(t, fiber.StatusOK, status)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.Equal(t, "chan-1", first["channel_id"])
	assert.Equal(t, "100", first["owner_id"])
	assert.Equal(t, "Support", first["category"])

	status, body = f.do(fiber.MethodGet, "/tickets?category=billing", "", true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["data"])

	status, body = f.do(fiber.MethodGet, "/tickets/chan-1", "", true)
	require.Equal(t, fiber.StatusOK, status)
	detail := body["data"].(map[string]any)
	assert.Equal(t, "alice", detail["owner_name"])
	assert.NotNil(t, detail["messages"])

	status, body = f.do(fiber.MethodGet, "/tickets/chan-404", "", true)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestTransferTicket(t *testing.T) {
	f := newAPIFixture(t)
	f.login()

	status, body := f.do(fiber.MethodPost, "/tickets/chan-1/transfer", `{"category":"billing"}`, true)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "Billing", body["data"].(map[string]any)["category"])
	assert.Contains(t, f.tr.Renamed["chan-1"], "billing")

	status, body = f.do(fiber.MethodPost, "/tickets/chan-1/transfer", `{}`, true)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = f.do(fiber.MethodPost, "/tickets/chan-1/transfer", `{"category":"Sales"}`, true)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestCloseTicketAndHistory(t *testing.T) {
	f := newAPIFixture(t)
	f.login()

	status, body := f.do(fiber.MethodPost, "/tickets/chan-1/close", "", true)
	require.Equal(t, fiber.StatusOK, status, body)
	record := body["data"].(map[string]any)
	assert.Equal(t, string(domain.CloseReasonManual), record["reason"])
	assert.Equal(t, "staff", record["closed_by"])

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"chan-1"}, f.tr.Deleted)

	status, body = f.do(fiber.MethodPost, "/tickets/chan-1/close", "", true)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	status, body = f.do(fiber.MethodGet, "/users/100/history", "", true)
	require.Equal(t, fiber.StatusOK, status)
	history := body["data"].(map[string]any)
	assert.Empty(t, history["active"])
	assert.Len(t, history["closed"], 1)
	assert.Equal(t, false, history["blacklisted"])
}

func TestBlacklistEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.login()

	status, body := f.do(fiber.MethodPut, "/blacklist/200", "", true)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["data"].(map[string]any)["blacklisted"])
	assert.True(t, f.lifecycle.IsBlacklisted("200"))

	status, _ = f.do(fiber.MethodDelete, "/blacklist/200", "", true)
	require.Equal(t, fiber.StatusOK, status)
	assert.False(t, f.lifecycle.IsBlacklisted("200"))
}

// Both configurations are exercised so the handlers stay correct even when
// fiber hands out zero-copy parameters.
var appConfigs = map[string]fiber.Config{
	"immutable": {Immutable: true},
	"zero_copy": {},
}

func TestBlacklistSurvivesLaterRequests(t *testing.T) {
	for name, appCfg := range appConfigs {
		t.Run(name, func(t *testing.T) {
			f := newAPIFixtureWithConfig(t, appCfg)
			f.login()

			status, _ := f.do(fiber.MethodPut, "/blacklist/111111111111111111", "", true)
			require.Equal(t, fiber.StatusOK, status)
			for i := 0; i < 20; i++ {
				status, _ = f.do(fiber.MethodGet, "/users/222222222222222222/history", "", true)
				require.Equal(t, fiber.StatusOK, status)
			}

			assert.True(t, f.lifecycle.IsBlacklisted("111111111111111111"))
			assert.False(t, f.lifecycle.IsBlacklisted("222222222222222222"))
		})
	}
}

func TestClosedChannelDeletedAfterLaterRequests(t *testing.T) {
	for name, appCfg := range appConfigs {
		t.Run(name, func(t *testing.T) {
			f := newAPIFixtureWithConfig(t, appCfg)
			f.login()

			status, body := f.do(fiber.MethodPost, "/tickets/chan-1/close", "", true)
			require.Equal(t, fiber.StatusOK, status, body)
			for i := 0; i < 5; i++ {
				status, _ = f.do(fiber.MethodGet, "/tickets/zzzz-9", "", true)
				require.Equal(t, fiber.StatusNotFound, status)
			}

			f.clock.Advance(5 * time.Second)
			assert.Equal(t, []string{"chan-1"}, f.tr.Deleted)
		})
	}
}

func TestStatsIncludeMetrics(t *testing.T) {
	f := newAPIFixture(t)
	f.login()

	status, body := f.do(fiber.MethodGet, "/stats?user=100", "", true)
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	tickets := data["tickets"].(map[string]any)
	assert.EqualValues(t, 1, tickets["active_tickets"])
	assert.Equal(t, "100", tickets["user"].(map[string]any)["user_id"])
	assert.NotEmpty(t, data["metrics"])
}

func TestUnknownRouteRendersErrorEnvelope(t *testing.T) {
	f := newAPIFixture(t)
	f.login()

	status, body := f.do(fiber.MethodGet, "/nope", "", true)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}
