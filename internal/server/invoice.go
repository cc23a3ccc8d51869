package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetInvoiceByKey(c *gin.Context) {
	number := strings.TrimSpace(c.Param("number"))
	series := strings.TrimSpace(c.Param("series"))
	if number == "" {
		AbortWithError(c, newValidationError("number", "invalid_number", "invalid invoice number"))
		return
	}
	if series == "" {
		AbortWithError(c, newValidationError("series", "invalid_series", "invalid series"))
		return
	}

	item, err := s.invoiceSvc.GetByKey(c.Request.Context(), number, series)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
