package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ventra-system/internal/database/models"
	"ventra-system/internal/production"
)

type ProductionHTTPHandler struct {
	production *production.Service
	log        *zap.Logger
}

func NewProductionHTTPHandler(productionSvc *production.Service, log *zap.Logger) *ProductionHTTPHandler {
	return &ProductionHTTPHandler{production: productionSvc, log: log}
}

type createBatchRequest struct {
	RecipeID        int64           `json:"recipe_id" binding:"required"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity" binding:"required"`
	BatchReference  string          `json:"batch_reference"`
}

func (h *ProductionHTTPHandler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	batch, err := h.production.Create(c.Request.Context(), production.CreateBatchInput{
		TenantID:        tenantID(c),
		RecipeID:        req.RecipeID,
		PlannedQuantity: req.PlannedQuantity,
		BatchReference:  req.BatchReference,
		ActorID:         actorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, batch)
}

func (h *ProductionHTTPHandler) StartBatch(c *gin.Context) {
	batchID, err := parseInt64Param(c, "id")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid batch id")
		return
	}

	batch, err := h.production.Start(c.Request.Context(), tenantID(c), batchID)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, batch)
}

type completeBatchRequest struct {
	ActualQuantity decimal.Decimal `json:"actual_quantity" binding:"required"`
	LocationID     int64           `json:"location_id" binding:"required"`
}

func (h *ProductionHTTPHandler) CompleteBatch(c *gin.Context) {
	batchID, err := parseInt64Param(c, "id")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid batch id")
		return
	}

	var req completeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	batch, err := h.production.Complete(c.Request.Context(), production.CompleteBatchInput{
		TenantID:       tenantID(c),
		BatchID:        batchID,
		ActualQuantity: req.ActualQuantity,
		LocationID:     req.LocationID,
		ActorID:        actorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, batch)
}

type cancelBatchRequest struct {
	Reason string `json:"reason"`
}

func (h *ProductionHTTPHandler) CancelBatch(c *gin.Context) {
	batchID, err := parseInt64Param(c, "id")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid batch id")
		return
	}

	var req cancelBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	batch, err := h.production.Cancel(c.Request.Context(), tenantID(c), batchID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, batch)
}

func (h *ProductionHTTPHandler) GetBatch(c *gin.Context) {
	batchID, err := parseInt64Param(c, "id")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid batch id")
		return
	}

	batch, err := h.production.Get(c.Request.Context(), tenantID(c), batchID)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, batch)
}

func (h *ProductionHTTPHandler) ListBatches(c *gin.Context) {
	var status *models.BatchStatus
	if s := c.Query("status"); s != "" {
		batchStatus := models.BatchStatus(s)
		status = &batchStatus
	}

	batches, err := h.production.List(c.Request.Context(), tenantID(c), status)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, batches)
}

// BatchTransactions returns the backward lineage of one batch.
func (h *ProductionHTTPHandler) BatchTransactions(c *gin.Context) {
	batchID, err := parseInt64Param(c, "id")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid batch id")
		return
	}

	txns, err := h.production.BatchTransactions(c.Request.Context(), tenantID(c), batchID)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, txns)
}

// IngredientBatches returns the forward lineage of one ingredient item.
func (h *ProductionHTTPHandler) IngredientBatches(c *gin.Context) {
	itemID, err := parseInt64Param(c, "itemId")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid item id")
		return
	}

	batches, err := h.production.BatchesForIngredient(c.Request.Context(), tenantID(c), itemID)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, batches)
}
