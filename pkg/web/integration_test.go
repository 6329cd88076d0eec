//go:build integration

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rouhapp/coordination/pkg/cache"
	"github.com/rouhapp/coordination/pkg/effects"
	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/persistence/postgresql"
	"github.com/rouhapp/coordination/pkg/services"
	"github.com/rouhapp/coordination/pkg/web"
)

func setupTestDB(t *testing.T) (string, func()) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "test_coordination",
				"POSTGRES_USER":     "test_user",
				"POSTGRES_PASSWORD": "test_pass",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbURL := fmt.Sprintf("postgres://test_user:test_pass@%s:%s/test_coordination?sslmode=disable", host, port.Port())

	time.Sleep(2 * time.Second)

	cleanup := func() {
		_ = container.Terminate(ctx)
	}

	return dbURL, cleanup
}

func setupIntegrationApp(t *testing.T, dbURL string) (*fiber.App, *services.Run) {
	logger := slog.Default()

	// Migrations run automatically on connect.
	persistence, err := postgresql.NewPersistence(context.Background(), logger, dbURL)
	require.NoError(t, err)

	templateService := services.NewTemplate(persistence, cache.NewMemoryTemplateCache())
	dispatcher := effects.NewDispatcher(logger)
	runService := services.NewRun(persistence, templateService, nil, dispatcher, logger, "http://app.local")
	guard := services.NewGuard(persistence, runService)

	handlers := web.NewAPIHandlers(templateService, runService, guard,
		validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return app, runService
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) *http.Response {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func TestRunFlow_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbURL, cleanup := setupTestDB(t)
	defer cleanup()

	app, _ := setupIntegrationApp(t, dbURL)

	var templateID string

	t.Run("Create Template", func(t *testing.T) {
		resp := postJSON(t, app, "/templates", models.Template{
			Name:        "delivery handoff",
			Description: "Sender hands a package to a courier who confirms delivery",
			Roles: []models.TemplateRole{
				{Name: "sender", MinParticipants: 1},
				{Name: "courier", MinParticipants: 1},
			},
			Slots: []models.TemplateSlot{
				{Name: "address", Type: models.SlotTypeText},
				{Name: "delivered", Type: models.SlotTypeBoolean},
			},
			States: []models.TemplateState{
				{Name: "prepared", Type: models.StateTypeCollect, Sequence: 0, RequiredSlots: []string{"address"}, AllowedRoles: []string{"sender"}},
				{Name: "in-transit", Type: models.StateTypeEvidence, Sequence: 1, AllowedRoles: []string{"courier"}},
				{Name: "delivered", Type: models.StateTypeSignoff, Sequence: 2},
			},
		})
		defer resp.Body.Close()

		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var created models.Template
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
		require.NotEmpty(t, created.ID)

		templateID = created.ID
	})

	var runID string

	var senderToken string

	t.Run("Create Run", func(t *testing.T) {
		resp := postJSON(t, app, "/runs", web.CreateRunRequest{
			TemplateID: templateID,
			TenantID:   "tenant-integration",
		})
		defer resp.Body.Close()

		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var run models.Run
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
		assert.Equal(t, models.RunStatusActive, run.Status)
		assert.Equal(t, "prepared", run.CurrentState)

		runID = run.ID
	})

	t.Run("Join As Sender", func(t *testing.T) {
		resp := postJSON(t, app, "/runs/"+runID+"/join", web.JoinRunRequest{RoleName: "sender"})
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var joined web.JoinRunResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&joined))
		require.NotEmpty(t, joined.Token)

		senderToken = joined.Token
	})

	t.Run("Advance State", func(t *testing.T) {
		resp := postJSON(t, app, "/runs/"+runID+"/advance?token="+senderToken, web.AdvanceStateRequest{
			SlotData: map[string]any{"address": "12 Main St"},
		})
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var state models.RunState
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
		assert.Equal(t, "in-transit", state.StateName)
	})

	t.Run("Advance Rejected For Wrong Role", func(t *testing.T) {
		// The sender may not act in a courier-only state.
		resp := postJSON(t, app, "/runs/"+runID+"/advance?token="+senderToken, web.AdvanceStateRequest{
			SlotData: map[string]any{"delivered": true},
		})
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("History Survives Restart", func(t *testing.T) {
		// A fresh app over the same database sees the same run.
		reopened, _ := setupIntegrationApp(t, dbURL)

		req := httptest.NewRequest(http.MethodGet, "/runs/"+runID+"/history", nil)

		resp, err := reopened.Test(req)
		require.NoError(t, err)

		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			History []models.RunState `json:"history"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Len(t, result.History, 2)
	})
}
