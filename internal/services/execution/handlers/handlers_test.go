package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/internal/engine/executor"
	"github.com/flowgrid-go/internal/engine/scheduler"
	executionrepo "github.com/flowgrid-go/internal/services/execution/repository"
	"github.com/flowgrid-go/internal/services/execution/queue"
	"github.com/flowgrid-go/internal/services/execution/service"
	workflowrepo "github.com/flowgrid-go/internal/services/workflow/repository"
	"github.com/flowgrid-go/pkg/database"
	"github.com/flowgrid-go/pkg/events"
	"github.com/flowgrid-go/pkg/logger"
)

func setupRouter(t *testing.T) (*gin.Engine, *workflowrepo.WorkflowRepository) {
	gin.SetMode(gin.TestMode)

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gormDB.AutoMigrate(
		&workflow.WorkflowDefinition{},
		&workflow.Execution{},
		&workflow.ExecutionLog{},
	))
	db := &database.DB{DB: gormDB}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.NewNop()
	registry := executor.NewRegistry(log)
	registry.RegisterBuiltinNodes(executor.Options{
		DB:              &executor.GormInserter{DB: gormDB},
		EmailTransports: map[string]executor.EmailTransport{},
	})

	workflows := workflowrepo.NewWorkflowRepository(db)
	executions := executionrepo.NewExecutionRepository(db)
	q := queue.New(client, queue.DefaultConfig(), log)
	svc := service.NewExecutionService(executions, workflows, q,
		scheduler.New(registry, log), events.NewMemoryEventBus(), log)

	h := NewExecutionHandlers(svc, log)

	router := gin.New()
	router.POST("/api/v1/workflows/:workflowId/trigger", h.TriggerWorkflow)
	router.GET("/api/v1/executions", h.ListExecutions)
	router.GET("/api/v1/executions/:id", h.GetExecution)
	router.POST("/api/v1/executions/:id/cancel", h.CancelExecution)

	return router, workflows
}

func seedLinearWorkflow(t *testing.T, workflows *workflowrepo.WorkflowRepository) string {
	def := &workflow.WorkflowDefinition{
		ID:      uuid.New().String(),
		Name:    "order pipeline",
		Version: 1,
		Nodes: []workflow.Node{
			{ID: "hook", Type: workflow.NodeTypeWebhook},
			{ID: "call", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "hook", Target: "call"},
		},
		IsActive: true,
	}
	require.NoError(t, workflows.Save(context.Background(), def))
	return def.ID
}

func TestTriggerEndpoint_Accepted(t *testing.T) {
	router, workflows := setupRouter(t)
	workflowID := seedLinearWorkflow(t, workflows)

	body := `{"triggered_by":"webhook","trigger_data":{"orderId":"ord-1"}}`
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/workflows/"+workflowID+"/trigger", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["execution_id"])
	assert.Equal(t, string(workflow.ExecutionPending), resp["status"])
}

func TestTriggerEndpoint_UnknownWorkflow(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/workflows/"+uuid.New().String()+"/trigger", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetExecutionEndpoint_NotFound(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	router, workflows := setupRouter(t)
	workflowID := seedLinearWorkflow(t, workflows)

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/workflows/"+workflowID+"/trigger", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	executionID := resp["execution_id"].(string)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/executions/"+executionID+"/cancel", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/executions/"+executionID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var execution workflow.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &execution))
	assert.Equal(t, workflow.ExecutionCancelled, execution.Status)
}

func TestListExecutionsEndpoint(t *testing.T) {
	router, workflows := setupRouter(t)
	workflowID := seedLinearWorkflow(t, workflows)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost,
			"/api/v1/workflows/"+workflowID+"/trigger", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions?workflow_id="+workflowID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Executions []workflow.Execution `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Executions, 2)
}
