package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/adapters/membership"
	"github.com/stepflow/stepflow/internal/adapters/repository/memory"
	"github.com/stepflow/stepflow/internal/app/services"
	"github.com/stepflow/stepflow/internal/app/usecases"
	"github.com/stepflow/stepflow/internal/core/flow"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	repo := memory.NewFlowRepository()
	tiers := membership.NewMemoryService()
	srv := newServer(
		usecases.NewLifecycleService(repo, tiers, nil),
		repo,
		tiers,
		usecases.NewRouter(),
		services.NewSessionService(),
		nil,
	)
	return srv.routes()
}

func doJSON(t *testing.T, h http.Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else {
		buf.WriteString("{}")
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeFlow(t *testing.T, rec *httptest.ResponseRecorder) *flow.Flow {
	t.Helper()
	var f flow.Flow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
	return &f
}

func TestServer_RequiresIdentity(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/flows", "", map[string]string{"title": "Tour"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_FlowLifecycle(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/flows", "owner-1", map[string]string{"title": "Tour"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeFlow(t, rec)
	assert.Equal(t, flow.StatusDraft, created.Status)

	// Fill in the graph through the document endpoint.
	doc := map[string]interface{}{
		"id":          created.ID,
		"owner_id":    "owner-1",
		"title":       "Tour",
		"entry_point": "welcome",
		"nodes": []map[string]interface{}{
			{"id": "welcome", "title": "Welcome", "connections": []string{"done"}},
			{"id": "done", "title": "Done"},
		},
	}
	rec = doJSON(t, h, http.MethodPut, "/api/flows/"+created.ID, "owner-1", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/flows/"+created.ID+"/activate", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, flow.StatusLive, decodeFlow(t, rec).Status)

	// Another owner cannot see or touch it.
	rec = doJSON(t, h, http.MethodGet, "/api/flows/"+created.ID, "owner-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/flows/"+created.ID+"/archive", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Archived flows cannot be activated directly.
	rec = doJSON(t, h, http.MethodPost, "/api/flows/"+created.ID+"/activate", "owner-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ActivateRejectsBrokenGraph(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/flows", "owner-1", map[string]string{"title": "Empty"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeFlow(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/flows/"+created.ID+"/activate", "owner-1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_entry")
}

func TestServer_FreeTierQuota(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/flows", "owner-1", map[string]string{"title": "First"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/flows", "owner-1", map[string]string{"title": "Second"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive one or upgrade")
}

func TestServer_MembershipRequiresAdmin(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/memberships/owner-1/upgrade", bytes.NewBufferString("{}"))
	req.Header.Set("X-User-ID", "owner-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/memberships/owner-1/upgrade", bytes.NewBufferString("{}"))
	req.Header.Set("X-User-ID", "billing-bot")
	req.Header.Set("X-Access-Level", "admin")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_SessionTraversal(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/flows", "owner-1", map[string]string{"title": "Survey"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeFlow(t, rec)

	doc := map[string]interface{}{
		"id":          created.ID,
		"owner_id":    "owner-1",
		"title":       "Survey",
		"entry_point": "welcome",
		"nodes": []map[string]interface{}{
			{"id": "welcome", "title": "Welcome", "connections": []string{"gate"}},
			{"id": "features", "title": "Features", "connections": []string{"__end__"}},
			{"id": "goodbye", "title": "Goodbye"},
		},
		"blocks": []map[string]interface{}{
			{
				"id":   "gate",
				"type": "if-else",
				"if_else": map[string]interface{}{
					"cond":         map[string]interface{}{"field": "interest", "op": "eq", "value": "yes"},
					"true_target":  "features",
					"false_target": "goodbye",
				},
			},
		},
	}
	rec = doJSON(t, h, http.MethodPut, "/api/flows/"+created.ID, "owner-1", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doJSON(t, h, http.MethodPost, "/api/flows/"+created.ID+"/activate", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Visitors need no identity headers.
	rec = doJSON(t, h, http.MethodPost, "/api/sessions", "", map[string]string{
		"flow_id":    created.ID,
		"visitor_id": "visitor-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var started struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		Step struct {
			Node *flow.Node `json:"node"`
		} `json:"step"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotNil(t, started.Step.Node)
	assert.Equal(t, "welcome", started.Step.Node.ID)

	stepPath := fmt.Sprintf("/api/sessions/%s/step", started.Session.ID)
	rec = doJSON(t, h, http.MethodPost, stepPath, "", map[string]interface{}{
		"responses": map[string]interface{}{"interest": "yes"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var step struct {
		Node *flow.Node `json:"node"`
		End  bool       `json:"end"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &step))
	require.NotNil(t, step.Node)
	assert.Equal(t, "features", step.Node.ID)

	rec = doJSON(t, h, http.MethodPost, stepPath, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &step))
	assert.True(t, step.End)
}

func TestServer_StatelessNextStep(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/next-step", "", map[string]interface{}{
		"flow_id": "missing", "visitor_id": "v",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/next-step", "", map[string]interface{}{
		"visitor_id": "v",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
