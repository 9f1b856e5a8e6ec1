package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropship-labs/fulfillment/internal/audit"
	"github.com/dropship-labs/fulfillment/internal/awstest"
	"github.com/dropship-labs/fulfillment/internal/clients"
	"github.com/dropship-labs/fulfillment/internal/fulfillment"
	"github.com/dropship-labs/fulfillment/internal/idempotency"
	"github.com/dropship-labs/fulfillment/internal/jobs"
	"github.com/dropship-labs/fulfillment/internal/orders"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dyn := awstest.NewDynamoFake(map[string]string{
		"orders": "order_id",
		"jobs":   "job_id",
		"idem":   "idempotency_key",
		"audit":  "entry_id",
	})
	svc := fulfillment.NewService(fulfillment.Deps{
		Orders:      orders.NewStore(dyn, "orders"),
		Jobs:        jobs.NewStore(dyn, "jobs"),
		Queue:       jobs.NewQueue(awstest.NewSQSFake(), "https://sqs.test/jobs"),
		Idem:        idempotency.NewStore(dyn, "idem", 24*time.Hour),
		Audit:       audit.NewStore(dyn, "audit"),
		Supplier:    &clients.StubSupplier{},
		Forwarder:   &clients.StubForwarder{},
		Policy:      jobs.Policy{MaxAttempts: 3, Backoff: 30 * time.Second},
		CallTimeout: time.Second,
		Logger:      zap.NewNop(),
	})

	r := gin.New()
	RegisterRoutes(r, HandlerConfig{Service: svc, Logger: zap.NewNop()})
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

const createBody = `{
	"platform_order_ref": "mp-1001",
	"items": [{"sku": "sku-1", "quantity": 2}],
	"buyer": {"name": "Hana Sato", "country": "JP", "address": "1-2-3 Ginza, Tokyo"}
}`

func createOrder(t *testing.T, r *gin.Engine, key string) string {
	t.Helper()
	w, body := doJSON(t, r, http.MethodPost, "/orders", createBody,
		map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := body["order_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestCreateOrderEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/orders", createBody,
		map[string]string{"Idempotency-Key": "key-1"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "PENDING", body["status"])
	assert.Contains(t, w.Header().Get("Location"), "/orders/")

	// Same key replays the original order with 200.
	w2, body2 := doJSON(t, r, http.MethodPost, "/orders", createBody,
		map[string]string{"Idempotency-Key": "key-1"})
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, body["order_id"], body2["order_id"])
}

func TestCreateOrderEndpoint_MissingKey(t *testing.T) {
	r := newTestRouter(t)
	w, body := doJSON(t, r, http.MethodPost, "/orders", createBody, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_idempotency_key", body["error"])
}

func TestCreateOrderEndpoint_ValidationFailure(t *testing.T) {
	r := newTestRouter(t)
	w, body := doJSON(t, r, http.MethodPost, "/orders",
		`{"platform_order_ref": "mp-1", "items": [], "buyer": {"name": "x"}}`,
		map[string]string{"Idempotency-Key": "key-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", body["error"])
}

func TestExecutePurchaseEndpoint(t *testing.T) {
	r := newTestRouter(t)
	id := createOrder(t, r, "key-1")

	w, body := doJSON(t, r, http.MethodPost, "/orders/"+id+"/execute-purchase", "",
		map[string]string{"Idempotency-Key": "approve-1"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	jobID, _ := body["job_id"].(string)
	assert.NotEmpty(t, jobID)

	// Replay returns the same job with 200.
	w2, body2 := doJSON(t, r, http.MethodPost, "/orders/"+id+"/execute-purchase", "",
		map[string]string{"Idempotency-Key": "approve-1"})
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, jobID, body2["job_id"])

	// A different key while the job is still queued resolves to the same
	// bound job rather than creating a second one.
	w3, body3 := doJSON(t, r, http.MethodPost, "/orders/"+id+"/execute-purchase", "",
		map[string]string{"Idempotency-Key": "approve-2"})
	assert.Equal(t, http.StatusAccepted, w3.Code)
	assert.Equal(t, jobID, body3["job_id"])
}

func TestExecutePurchaseEndpoint_UnknownOrder(t *testing.T) {
	r := newTestRouter(t)
	w, body := doJSON(t, r, http.MethodPost, "/orders/nope/execute-purchase", "",
		map[string]string{"Idempotency-Key": "approve-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "order_not_found", body["error"])
}

func TestForceFailEndpoint(t *testing.T) {
	r := newTestRouter(t)
	id := createOrder(t, r, "key-1")

	w, body := doJSON(t, r, http.MethodPost, "/orders/"+id+"/force-fail",
		`{"reason": "fraud suspected"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "FAILED", body["status"])

	// Already terminal.
	w2, _ := doJSON(t, r, http.MethodPost, "/orders/"+id+"/force-fail", "", nil)
	assert.Equal(t, http.StatusConflict, w2.Code)
}

func TestGetOrderEndpoint(t *testing.T) {
	r := newTestRouter(t)
	id := createOrder(t, r, "key-1")

	w, body := doJSON(t, r, http.MethodGet, "/orders/"+id, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["order_id"])

	w2, _ := doJSON(t, r, http.MethodGet, "/orders/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w2.Code)
}

func TestListOrdersEndpoint(t *testing.T) {
	r := newTestRouter(t)
	createOrder(t, r, "key-1")
	createOrder(t, r, "key-2")

	w, body := doJSON(t, r, http.MethodGet, "/orders?status=PENDING", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	list, _ := body["orders"].([]interface{})
	assert.Len(t, list, 2)
}

func TestSupplierWebhookEndpoint(t *testing.T) {
	r := newTestRouter(t)
	id := createOrder(t, r, "key-1")

	payload := `{"event_id": "evt-1", "order_id": "` + id + `", "status": "shipped"}`
	w, body := doJSON(t, r, http.MethodPost, "/webhooks/supplier", payload, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["replayed"])

	w2, body2 := doJSON(t, r, http.MethodPost, "/webhooks/supplier", payload, nil)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, true, body2["replayed"])

	wAudit, auditBody := doJSON(t, r, http.MethodGet, "/orders/"+id+"/audit", "", nil)
	assert.Equal(t, http.StatusOK, wAudit.Code)
	entries, _ := auditBody["entries"].([]interface{})
	assert.Len(t, entries, 1)
}

func TestWebhookEndpoint_MissingEventID(t *testing.T) {
	r := newTestRouter(t)
	w, body := doJSON(t, r, http.MethodPost, "/webhooks/forwarder",
		`{"order_id": "o-1", "status": "consolidated"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", body["error"])
}
