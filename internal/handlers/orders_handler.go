package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dropship-labs/fulfillment/internal/fulfillment"
	"github.com/dropship-labs/fulfillment/internal/idempotency"
	"github.com/dropship-labs/fulfillment/internal/orders"
	"github.com/dropship-labs/fulfillment/internal/validation"
)

// HandlerConfig groups dependencies for the fulfillment API.
type HandlerConfig struct {
	Service *fulfillment.Service
	Logger  *zap.Logger
}

// RegisterRoutes registers the order and webhook routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	svc := cfg.Service
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		items := make([]map[string]interface{}, 0, len(req.Items))
		for _, it := range req.Items {
			item := map[string]interface{}{
				"sku":      it.SKU,
				"quantity": it.Quantity,
			}
			if it.Price > 0 {
				item["price"] = it.Price
			}
			items = append(items, item)
		}
		buyer := map[string]interface{}{
			"name":    req.Buyer.Name,
			"country": req.Buyer.Country,
			"address": req.Buyer.Address,
		}
		if req.Buyer.City != "" {
			buyer["city"] = req.Buyer.City
		}
		if req.Buyer.Postcode != "" {
			buyer["postcode"] = req.Buyer.Postcode
		}
		if req.Buyer.Phone != "" {
			buyer["phone"] = req.Buyer.Phone
		}

		order, replayed, err := svc.CreateOrder(ctx, idempKey, req.PlatformOrderRef, items, buyer)
		if err != nil {
			writeError(c, log, err)
			return
		}

		status := http.StatusCreated
		if replayed {
			status = http.StatusOK
		}
		c.Header("Location", "/orders/"+order.OrderID)
		c.JSON(status, order)
	})

	r.GET("/orders", func(c *gin.Context) {
		list, err := svc.ListOrders(c.Request.Context(), orders.Status(c.Query("status")))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		order, err := svc.GetOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.GET("/orders/:id/audit", func(c *gin.Context) {
		entries, err := svc.ListAudit(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	r.POST("/orders/:id/execute-purchase", approveAction(log, svc.ExecutePurchase))
	r.POST("/orders/:id/send-to-forwarder", approveAction(log, svc.SendToForwarder))

	r.POST("/orders/:id/force-fail", func(c *gin.Context) {
		var req validation.ForceFailRequest
		// body is optional for force-fail
		_ = c.ShouldBindJSON(&req)

		order, err := svc.ForceFail(c.Request.Context(), c.Param("id"), req.Reason)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.POST("/webhooks/supplier", recordWebhook(svc, log, v, "supplier"))
	r.POST("/webhooks/forwarder", recordWebhook(svc, log, v, "forwarder"))

	r.POST("/webhooks/delivery-confirmed", func(c *gin.Context) {
		var req validation.DeliveryConfirmedRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		replayed, err := svc.ConfirmDelivery(c.Request.Context(), req.EventID, req.OrderID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": req.OrderID, "replayed": replayed})
	})
}

// approveAction handles the two approval endpoints, which share the same
// shape: an Idempotency-Key header and an async job ID response.
func approveAction(log *zap.Logger, op func(ctx context.Context, orderID, idemKey string) (string, bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		jobID, replayed, err := op(c.Request.Context(), c.Param("id"), idempKey)
		if err != nil {
			writeError(c, log, err)
			return
		}

		status := http.StatusAccepted
		if replayed {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"job_id": jobID})
	}
}

func recordWebhook(svc *fulfillment.Service, log *zap.Logger, v *validatorv10.Validate, source string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.WebhookRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		replayed, err := svc.RecordWebhook(c.Request.Context(), req.EventID, source, req.OrderID, req.Status, req.Meta)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": req.OrderID, "replayed": replayed})
	}
}

// writeError maps service errors onto HTTP responses.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var ite *orders.InvalidTransitionError
	switch {
	case errors.Is(err, fulfillment.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.As(err, &ite):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"status":  string(ite.From),
			"trigger": string(ite.Trigger),
		})
	case errors.Is(err, idempotency.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "request_in_progress"})
	case errors.Is(err, orders.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent_update", "msg": "order changed, retry the request"})
	default:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
