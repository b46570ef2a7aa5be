package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ventra-system/internal/costing"
	"ventra-system/internal/database/models"
	"ventra-system/internal/ledger"
)

type LedgerHTTPHandler struct {
	ledger *ledger.Service
	log    *zap.Logger
}

func NewLedgerHTTPHandler(ledgerSvc *ledger.Service, log *zap.Logger) *LedgerHTTPHandler {
	return &LedgerHTTPHandler{ledger: ledgerSvc, log: log}
}

type reserveRequest struct {
	ItemID     int64           `json:"item_id" binding:"required"`
	LocationID int64           `json:"location_id" binding:"required"`
	Quantity   decimal.Decimal `json:"quantity" binding:"required"`
	Reference  string          `json:"reference"`
}

func (h *LedgerHTTPHandler) Reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	record, err := h.ledger.Reserve(c.Request.Context(), ledger.ReserveInput{
		TenantID:   tenantID(c),
		ItemID:     req.ItemID,
		LocationID: req.LocationID,
		Quantity:   req.Quantity,
		Reference:  req.Reference,
		ActorID:    actorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, record)
}

func (h *LedgerHTTPHandler) Release(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	record, err := h.ledger.Release(c.Request.Context(), ledger.ReleaseInput{
		TenantID:   tenantID(c),
		ItemID:     req.ItemID,
		LocationID: req.LocationID,
		Quantity:   req.Quantity,
		Reference:  req.Reference,
		ActorID:    actorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, record)
}

type adjustRequest struct {
	ItemID      int64               `json:"item_id" binding:"required"`
	LocationID  int64               `json:"location_id" binding:"required"`
	Quantity    decimal.Decimal     `json:"quantity" binding:"required"`
	Direction   string              `json:"direction" binding:"required"`
	CostPerUnit decimal.NullDecimal `json:"cost_per_unit"`
	Reference   string              `json:"reference"`
}

func (h *LedgerHTTPHandler) Adjust(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	record, err := h.ledger.Adjust(c.Request.Context(), ledger.AdjustInput{
		TenantID:    tenantID(c),
		ItemID:      req.ItemID,
		LocationID:  req.LocationID,
		Quantity:    req.Quantity,
		Direction:   ledger.AdjustDirection(req.Direction),
		CostPerUnit: req.CostPerUnit,
		Reference:   req.Reference,
		ActorID:     actorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, record)
}

type transferRequest struct {
	ItemID         int64           `json:"item_id" binding:"required"`
	FromLocationID int64           `json:"from_location_id" binding:"required"`
	ToLocationID   int64           `json:"to_location_id" binding:"required"`
	Quantity       decimal.Decimal `json:"quantity" binding:"required"`
	Reference      string          `json:"reference"`
}

func (h *LedgerHTTPHandler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.ledger.Transfer(c.Request.Context(), ledger.TransferInput{
		TenantID:       tenantID(c),
		ItemID:         req.ItemID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		Reference:      req.Reference,
		ActorID:        actorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, result)
}

func (h *LedgerHTTPHandler) GetStock(c *gin.Context) {
	itemID, err := parseInt64Param(c, "itemId")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid item id")
		return
	}

	records, err := h.ledger.GetStock(c.Request.Context(), tenantID(c), itemID, parseInt64Query(c, "location_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, records)
}

func (h *LedgerHTTPHandler) ListTransactions(c *gin.Context) {
	filter := ledger.TransactionFilter{
		TenantID:   tenantID(c),
		ItemID:     parseInt64Query(c, "item_id"),
		LocationID: parseInt64Query(c, "location_id"),
		PageSize:   parseIntQuery(c, "page_size", 50),
		PageToken:  c.Query("page_token"),
	}
	if t := c.Query("type"); t != "" {
		txType := models.TransactionType(t)
		if !txType.IsValid() {
			fail(c, http.StatusBadRequest, "invalid transaction type")
			return
		}
		filter.Type = &txType
	}
	if d := c.Query("start_date"); d != "" {
		if start, err := time.Parse("2006-01-02", d); err == nil {
			filter.StartDate = &start
		}
	}
	if d := c.Query("end_date"); d != "" {
		if end, err := time.Parse("2006-01-02", d); err == nil {
			end = end.Add(24 * time.Hour)
			filter.EndDate = &end
		}
	}

	txns, total, nextPageToken, err := h.ledger.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, gin.H{
		"transactions":    txns,
		"total_count":     total,
		"next_page_token": nextPageToken,
	})
}

func (h *LedgerHTTPHandler) ListMovements(c *gin.Context) {
	movements, total, nextPageToken, err := h.ledger.ListMovements(
		c.Request.Context(),
		tenantID(c),
		parseInt64Query(c, "stock_record_id"),
		parseIntQuery(c, "page_size", 50),
		c.Query("page_token"),
	)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, gin.H{
		"movements":       movements,
		"total_count":     total,
		"next_page_token": nextPageToken,
	})
}

// Valuation prices a hypothetical consumption of an item's stock layers using
// the requested costing method.
func (h *LedgerHTTPHandler) Valuation(c *gin.Context) {
	itemID, err := parseInt64Param(c, "itemId")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid item id")
		return
	}

	qty, err := decimal.NewFromString(c.DefaultQuery("quantity", "0"))
	if err != nil || qty.LessThanOrEqual(decimal.Zero) {
		fail(c, http.StatusBadRequest, "quantity must be a positive number")
		return
	}

	layers, err := h.ledger.StockLayers(c.Request.Context(), tenantID(c), itemID, parseInt64Query(c, "location_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	method := c.DefaultQuery("method", "weighted_average")
	switch method {
	case "fifo":
		success(c, costing.FIFOCost(layers, qty))
	case "lifo":
		success(c, costing.LIFOCost(layers, qty))
	case "weighted_average":
		entries := make([]costing.CostedQuantity, 0, len(layers))
		for _, l := range layers {
			entries = append(entries, costing.CostedQuantity{Quantity: l.Quantity, CostPerUnit: l.CostPerUnit})
		}
		avg := costing.WeightedAverageCost(entries)
		success(c, gin.H{
			"cost_per_unit": avg,
			"total_cost":    avg.Mul(qty),
		})
	default:
		fail(c, http.StatusBadRequest, "method must be fifo, lifo or weighted_average")
	}
}

// Replenishment computes EOQ, safety stock, reorder point and days of
// inventory from caller-supplied demand figures.
func (h *LedgerHTTPHandler) Replenishment(c *gin.Context) {
	itemID, err := parseInt64Param(c, "itemId")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid item id")
		return
	}

	leadTimeDays := parseIntQuery(c, "lead_time_days", 7)
	avgConsumption := parseFloatQuery(c, "avg_daily_consumption", 0)

	eoq := costing.EconomicOrderQuantity(
		parseFloatQuery(c, "annual_demand", 0),
		parseFloatQuery(c, "ordering_cost", 0),
		parseFloatQuery(c, "holding_cost", 0),
	)
	safety := costing.SafetyStock(
		parseFloatQuery(c, "demand_std_dev", 0),
		parseFloatQuery(c, "service_level", 0.95),
		leadTimeDays,
		nil,
	)
	reorderPoint := costing.ReorderPoint(
		avgConsumption,
		leadTimeDays,
		parseFloatQuery(c, "safety_stock_pct", costing.DefaultSafetyStockPct),
	)

	records, err := h.ledger.GetStock(c.Request.Context(), tenantID(c), itemID, parseInt64Query(c, "location_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	currentStock := decimal.Zero
	for _, r := range records {
		currentStock = currentStock.Add(r.Quantity)
	}

	days, infinite := costing.DaysOfInventory(currentStock, decimal.NewFromFloat(avgConsumption))
	payload := gin.H{
		"economic_order_quantity": eoq,
		"safety_stock":            safety,
		"reorder_point":           reorderPoint,
		"current_stock":           currentStock,
	}
	if infinite {
		payload["days_of_inventory"] = nil
		payload["days_of_inventory_infinite"] = true
	} else {
		payload["days_of_inventory"] = days
		payload["days_of_inventory_infinite"] = false
	}
	success(c, payload)
}
