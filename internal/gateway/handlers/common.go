package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ventra-system/internal/apperr"
)

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func fail(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

// writeError maps the core error taxonomy onto HTTP statuses: validation 400,
// not-found 404, insufficient stock 409, everything else 500.
func writeError(c *gin.Context, err error) {
	switch {
	case apperr.IsInsufficientStock(err):
		fail(c, http.StatusConflict, err.Error())
	case apperr.IsValidation(err):
		fail(c, http.StatusBadRequest, err.Error())
	case apperr.IsNotFound(err):
		fail(c, http.StatusNotFound, err.Error())
	default:
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

func tenantID(c *gin.Context) int64 {
	return c.GetInt64("tenant_id")
}

func actorID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}

func parseInt64Param(c *gin.Context, param string) (int64, error) {
	return strconv.ParseInt(c.Param(param), 10, 64)
}

func parseInt64Query(c *gin.Context, param string) *int64 {
	str := c.Query(param)
	if str == "" {
		return nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil
	}
	return &val
}

func parseFloatQuery(c *gin.Context, param string, defaultValue float64) float64 {
	str := c.Query(param)
	if str == "" {
		return defaultValue
	}
	val, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseIntQuery(c *gin.Context, param string, defaultValue int) int {
	str := c.Query(param)
	if str == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseBoolQuery(c *gin.Context, param string) *bool {
	str := c.Query(param)
	if str == "" {
		return nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil
	}
	return &val
}
