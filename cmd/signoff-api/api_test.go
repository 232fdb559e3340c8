package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence/file"
	"github.com/asseto/signoff/pkg/roles"
)

func setupTestApp(tempDir string) *fiber.App {
	store := file.NewPersistence(tempDir)

	directory := roles.NewStaticDirectory()
	directory.Grant("tenant-1", "supervisor", "alice")
	directory.Grant("tenant-1", "manager", "bob")

	api := NewAPI(
		slog.Default(),
		store,
		directory,
		nil,
	)

	return api.App()
}

func createInstancePayload() map[string]any {
	return map[string]any{
		"tenant_id":      "tenant-1",
		"subject_ref":    "asset-42",
		"kind":           "maintenance",
		"due_date":       time.Now().UTC().AddDate(0, 0, 30).Format(time.RFC3339),
		"lead_time_days": 5,
		"routing": []map[string]any{
			{"sequence": 1, "role": "supervisor"},
			{"sequence": 2, "role": "manager"},
		},
	}
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func closeBody(t *testing.T, resp *http.Response) {
	t.Helper()

	if err := resp.Body.Close(); err != nil {
		t.Logf("Failed to close response body: %v", err)
	}
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Signoff API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CreateInstance(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/instances", createInstancePayload())
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var instance models.Instance

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&instance))
	assert.NotEmpty(t, instance.ID)
	assert.Equal(t, models.InstanceStatusInProgress, instance.Status)
	require.Len(t, instance.Steps, 2)
	assert.Equal(t, models.StepStatusActionPending, instance.Steps[0].Status)
}

func TestAPI_CreateInstance_InvalidRouting(t *testing.T) {
	app := setupTestApp(t.TempDir())

	payload := createInstancePayload()
	payload["routing"] = []map[string]any{
		{"sequence": 1, "role": "supervisor"},
		{"sequence": 3, "role": "manager"},
	}

	resp := postJSON(t, app, "/instances", payload)
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateInstance_MissingFields(t *testing.T) {
	app := setupTestApp(t.TempDir())

	payload := createInstancePayload()
	delete(payload, "subject_ref")

	resp := postJSON(t, app, "/instances", payload)
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateInstance_DuplicateSubject(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/instances", createInstancePayload())
	closeBody(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, app, "/instances", createInstancePayload())
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_SubmitDecision_Flow(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/instances", createInstancePayload())

	var instance models.Instance

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&instance))
	closeBody(t, resp)

	decisionPath := "/instances/" + instance.ID + "/steps/" + instance.Steps[0].ID + "/decision"

	// An actor outside the role is forbidden.
	resp = postJSON(t, app, decisionPath, map[string]any{"action": "approve", "actor": "mallory"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	closeBody(t, resp)

	// The supervisor approves.
	resp = postJSON(t, app, decisionPath, map[string]any{"action": "approve", "actor": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		InstanceStatus models.InstanceStatus `json:"instance_status"`
		ActivatedStep  *models.Step          `json:"activated_step"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	closeBody(t, resp)

	assert.Equal(t, models.InstanceStatusInProgress, result.InstanceStatus)
	require.NotNil(t, result.ActivatedStep)
	assert.Equal(t, 2, result.ActivatedStep.Sequence)

	// A second decision against the settled step conflicts.
	resp = postJSON(t, app, decisionPath, map[string]any{"action": "reject", "actor": "alice"})
	defer closeBody(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_SubmitDecision_InactiveStep(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/instances", createInstancePayload())

	var instance models.Instance

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&instance))
	closeBody(t, resp)

	// The manager step is still waiting for the supervisor; deciding it
	// out of order conflicts.
	decisionPath := "/instances/" + instance.ID + "/steps/" + instance.Steps[1].ID + "/decision"

	resp = postJSON(t, app, decisionPath, map[string]any{"action": "approve", "actor": "bob"})
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_SubmitDecision_InvalidAction(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/instances", createInstancePayload())

	var instance models.Instance

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&instance))
	closeBody(t, resp)

	decisionPath := "/instances/" + instance.ID + "/steps/" + instance.Steps[0].ID + "/decision"

	resp = postJSON(t, app, decisionPath, map[string]any{"action": "escalate", "actor": "alice"})
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetInstance(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/instances", createInstancePayload())

	var instance models.Instance

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&instance))
	closeBody(t, resp)

	req := httptest.NewRequest(http.MethodGet, "/instances/"+instance.ID, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var view struct {
		models.Instance

		History []models.HistoryEntry `json:"history"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, instance.ID, view.ID)
	assert.NotEmpty(t, view.History)
}

func TestAPI_GetInstance_NotFound(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/instances/missing", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListInstances(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/instances", createInstancePayload())
	closeBody(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/instances/?tenant_id=tenant-1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Instances  []models.Instance `json:"instances"`
		TotalCount int64             `json:"total_count"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Equal(t, int64(1), listing.TotalCount)
	require.Len(t, listing.Instances, 1)
	assert.Equal(t, "asset-42", listing.Instances[0].SubjectRef)
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
}
