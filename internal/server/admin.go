package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/vitrinelabs/vitrine/internal/billing/domain"
	paymentdomain "github.com/vitrinelabs/vitrine/internal/payment/domain"
	"github.com/vitrinelabs/vitrine/pkg/db/pagination"
)

type listWebhookEventsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int32  `form:"page_size"`
	Provider  string `form:"provider"`
	Success   string `form:"success"`
}

func (s *Server) ListWebhookEvents(c *gin.Context) {
	var query listWebhookEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var success *bool
	if value := strings.TrimSpace(query.Success); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			AbortWithError(c, newValidationError("success", "invalid_success", "invalid success"))
			return
		}
		success = &parsed
	}

	var cursor *paymentdomain.EventCursor
	if token := strings.TrimSpace(query.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page_token"))
			return
		}
		receivedAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page_token"))
			return
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page_token"))
			return
		}
		cursor = &paymentdomain.EventCursor{
			ID:         id,
			ReceivedAt: receivedAt,
		}
	}

	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	events, err := s.paymentSvc.ListEvents(c.Request.Context(), paymentdomain.EventListFilter{
		Provider: strings.ToLower(strings.TrimSpace(query.Provider)),
		Success:  success,
		Cursor:   cursor,
		Limit:    int(pageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pageInfo := pagination.BuildCursorPageInfo(events, pageSize, func(item *paymentdomain.WebhookEvent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.ReceivedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(events) > int(pageSize) {
		events = events[:pageSize]
	}

	c.JSON(http.StatusOK, gin.H{"data": events, "page_info": pageInfo})
}

func (s *Server) GetTransactionByID(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	transaction, err := s.paymentSvc.FindTransactionByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if transaction == nil {
		AbortWithError(c, paymentdomain.ErrTransactionNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transaction})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	subscription, err := s.billingSvc.FindSubscriptionByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if subscription == nil {
		AbortWithError(c, billingdomain.ErrSubscriptionNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}
