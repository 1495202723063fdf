package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowgrid-go/internal/domain/workflow"
	executionrepo "github.com/flowgrid-go/internal/services/execution/repository"
	"github.com/flowgrid-go/internal/services/execution/service"
	"github.com/flowgrid-go/pkg/database"
	"github.com/flowgrid-go/pkg/logger"
)

type ExecutionHandlers struct {
	service *service.ExecutionService
	logger  logger.Logger
}

func NewExecutionHandlers(service *service.ExecutionService, logger logger.Logger) *ExecutionHandlers {
	return &ExecutionHandlers{
		service: service,
		logger:  logger,
	}
}

func (h *ExecutionHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *ExecutionHandlers) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

type triggerRequest struct {
	TriggeredBy string                 `json:"triggered_by"`
	TriggerData map[string]interface{} `json:"trigger_data"`
}

// TriggerWorkflow accepts a trigger request and returns 202 with the new
// execution id. The run itself happens asynchronously on the worker pool.
func (h *ExecutionHandlers) TriggerWorkflow(c *gin.Context) {
	workflowID := c.Param("workflowId")

	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "manual"
	}

	executionID, err := h.service.TriggerWorkflow(c.Request.Context(), workflowID, req.TriggeredBy, req.TriggerData)
	if err != nil {
		h.logger.Warn("trigger rejected", "workflowId", workflowID, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"execution_id": executionID,
		"status":       workflow.ExecutionPending,
	})
}

func (h *ExecutionHandlers) GetExecution(c *gin.Context) {
	id := c.Param("id")

	execution, err := h.service.GetExecution(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to load execution", "executionId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load execution"})
		return
	}
	if execution == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}

	c.JSON(http.StatusOK, execution)
}

func (h *ExecutionHandlers) CancelExecution(c *gin.Context) {
	id := c.Param("id")

	if err := h.service.CancelExecution(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": workflow.ExecutionCancelled})
}

func (h *ExecutionHandlers) ListExecutions(c *gin.Context) {
	filter := executionrepo.ExecutionFilter{
		WorkflowID:  c.Query("workflow_id"),
		Status:      workflow.ExecutionStatus(c.Query("status")),
		TriggeredBy: c.Query("triggered_by"),
	}

	pagination := database.NewPagination(c.Query("page"), c.Query("limit"), c.DefaultQuery("sort", "started_at desc"))

	executions, err := h.service.ListExecutions(c.Request.Context(), filter, pagination)
	if err != nil {
		h.logger.Error("failed to list executions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": executions,
		"pagination": pagination,
	})
}
