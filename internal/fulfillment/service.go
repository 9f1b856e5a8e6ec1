// Package fulfillment orchestrates the order lifecycle: it owns the API-side
// operations (create, execute-purchase, send-to-forwarder, force-fail), the
// asynchronous job execution against supplier and forwarder, and the webhook
// entry points. All status changes funnel through the orders transition table
// and every change or external attempt leaves an audit entry.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropship-labs/fulfillment/internal/audit"
	"github.com/dropship-labs/fulfillment/internal/clients"
	"github.com/dropship-labs/fulfillment/internal/idempotency"
	"github.com/dropship-labs/fulfillment/internal/jobs"
	"github.com/dropship-labs/fulfillment/internal/metrics"
	"github.com/dropship-labs/fulfillment/internal/orders"
)

// ErrOrderNotFound is returned by operations addressing an unknown order_id.
var ErrOrderNotFound = errors.New("order not found")

// Deps are the collaborators a Service needs. All fields are required except
// Metrics, which may be a no-op emitter.
type Deps struct {
	Orders    *orders.Store
	Jobs      *jobs.Store
	Queue     *jobs.Queue
	Idem      *idempotency.Store
	Audit     *audit.Store
	Supplier  clients.SupplierClient
	Forwarder clients.ForwarderClient
	Metrics   *metrics.Emitter
	Policy    jobs.Policy
	// CallTimeout bounds each external supplier/forwarder call.
	CallTimeout time.Duration
	Logger      *zap.Logger
}

// Service implements the fulfillment operations.
type Service struct {
	orders      *orders.Store
	jobs        *jobs.Store
	queue       *jobs.Queue
	guard       *idempotency.Guard
	idem        *idempotency.Store
	audit       *audit.Store
	supplier    clients.SupplierClient
	forwarder   clients.ForwarderClient
	metrics     *metrics.Emitter
	policy      jobs.Policy
	callTimeout time.Duration
	logger      *zap.Logger
	nowFunc     func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.CallTimeout <= 0 {
		d.CallTimeout = 30 * time.Second
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewEmitter(nil, "", d.Logger)
	}
	return &Service{
		orders:      d.Orders,
		jobs:        d.Jobs,
		queue:       d.Queue,
		guard:       idempotency.NewGuard(d.Idem),
		idem:        d.Idem,
		audit:       d.Audit,
		supplier:    d.Supplier,
		forwarder:   d.Forwarder,
		metrics:     d.Metrics,
		policy:      d.Policy,
		callTimeout: d.CallTimeout,
		logger:      d.Logger,
		nowFunc:     time.Now,
	}
}

// CreateOrder registers a new order in PENDING. The caller-supplied
// idempotency key is reserved in the same transaction that writes the order
// row, so a duplicate create can never produce a second order. On a replayed
// key the original order is returned with replayed=true.
func (s *Service) CreateOrder(ctx context.Context, idemKey, platformRef string, items []map[string]interface{}, buyer map[string]interface{}) (*orders.Order, bool, error) {
	reservation, err := s.idem.BuildReservationItem(idempotency.ScopeCreate, idemKey)
	if err != nil {
		return nil, false, fmt.Errorf("build reservation: %w", err)
	}

	now := s.nowFunc().UTC()
	order := orders.Order{
		OrderID:          uuid.New().String(),
		Status:           orders.StatusPending,
		PlatformOrderRef: platformRef,
		IdempotencyKey:   idemKey,
		Items:            items,
		Buyer:            buyer,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.orders.CreateWithIdempotency(ctx, s.idem.TableName(), reservation, order)
	if errors.Is(err, orders.ErrIdempotencyKeyExists) {
		return s.replayCreate(ctx, idemKey)
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.idem.MarkDone(ctx, idempotency.ScopeCreate, idemKey, order.OrderID); err != nil {
		// The order exists; a later replay of this key will surface as
		// in-flight until the record is completed or expires.
		s.logger.Warn("mark create key done failed",
			zap.String("order_id", order.OrderID), zap.Error(err))
	}

	order.Version = 1
	s.logger.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("platform_order_ref", platformRef))
	return &order, false, nil
}

func (s *Service) replayCreate(ctx context.Context, idemKey string) (*orders.Order, bool, error) {
	rec, err := s.idem.Get(ctx, idempotency.ScopeCreate, idemKey)
	if err != nil {
		return nil, false, fmt.Errorf("inspect create key: %w", err)
	}
	if rec == nil || rec.Status != idempotency.StatusDone || rec.Result == "" {
		return nil, false, idempotency.ErrInFlight
	}
	existing, err := s.orders.Get(ctx, rec.Result)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("create key %q resolves to missing order %s", idemKey, rec.Result)
	}
	return existing, true, nil
}

// ExecutePurchase approves the supplier purchase for an order. It moves the
// order PENDING -> SUPPLIER_ORDERING, records the job row, and enqueues a
// purchase job, all deduplicated by the caller's idempotency key. Returns the
// job ID that will (or already did) perform the purchase.
func (s *Service) ExecutePurchase(ctx context.Context, orderID, idemKey string) (string, bool, error) {
	return s.guard.Execute(ctx, idempotency.ScopePurchase, idemKey, func(ctx context.Context) (string, error) {
		return s.startJob(ctx, orderID, jobs.TypePurchase, orders.TriggerExecutePurchase)
	})
}

// SendToForwarder approves handoff to the freight forwarder. It moves the
// order ORDERED_SUPPLIER -> FORWARDER_SENDING and enqueues a forward job.
func (s *Service) SendToForwarder(ctx context.Context, orderID, idemKey string) (string, bool, error) {
	return s.guard.Execute(ctx, idempotency.ScopeForward, idemKey, func(ctx context.Context) (string, error) {
		return s.startJob(ctx, orderID, jobs.TypeForward, orders.TriggerSendToForwarder)
	})
}

// startJob performs the shared approve-action flow: validate the transition,
// persist the job row, bind it to the order as its single active job, and
// publish the dispatch message. The order update is version-guarded, so two
// concurrent approvals with different keys race on the same version and only
// one binds a job.
func (s *Service) startJob(ctx context.Context, orderID string, jobType jobs.Type, trigger orders.Trigger) (string, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", ErrOrderNotFound
	}

	from := order.Status
	if err := orders.Apply(order, trigger); err != nil {
		jobID, repaired, rerr := s.repairApproval(ctx, order, jobType)
		if rerr != nil {
			return "", rerr
		}
		if repaired {
			return jobID, nil
		}
		return "", err
	}

	now := s.nowFunc().UTC()
	job := jobs.Job{
		JobID:       uuid.New().String(),
		OrderID:     orderID,
		Type:        jobType,
		Attempt:     1,
		ScheduledAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	order.ActiveJob = &orders.ActiveJob{
		ID:          job.JobID,
		Type:        string(jobType),
		Attempt:     job.Attempt,
		ScheduledAt: job.ScheduledAt,
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return "", err
	}

	s.auditTransition(ctx, order, audit.ActorUser, from, trigger, map[string]string{
		"job_id": job.JobID,
	})

	msg := jobs.Message{
		JobID:         job.JobID,
		OrderID:       orderID,
		Type:          jobType,
		Attempt:       job.Attempt,
		CorrelationID: uuid.New().String(),
	}
	if err := s.queue.Publish(ctx, msg, 0); err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}

	s.logger.Info("job scheduled",
		zap.String("order_id", orderID),
		zap.String("job_id", job.JobID),
		zap.String("job_type", string(jobType)))
	return job.JobID, nil
}

// repairApproval recovers an approval whose earlier run transitioned the
// order and bound the job but failed before the dispatch message reached the
// queue. When the order already sits in the action's executing status with a
// still-queued job of this type attached, the message is re-sent and that
// job's ID is returned. A duplicate message is harmless: the claim admits a
// single runner.
func (s *Service) repairApproval(ctx context.Context, order *orders.Order, jobType jobs.Type) (string, bool, error) {
	if order.Status != executingStatus(jobType) || order.ActiveJob == nil || order.ActiveJob.Type != string(jobType) {
		return "", false, nil
	}
	job, err := s.jobs.Get(ctx, order.ActiveJob.ID)
	if err != nil {
		return "", false, err
	}
	if job == nil || job.Status != jobs.StatusQueued {
		return "", false, nil
	}

	msg := jobs.Message{
		JobID:         job.JobID,
		OrderID:       order.OrderID,
		Type:          jobType,
		Attempt:       job.Attempt,
		CorrelationID: uuid.New().String(),
	}
	if err := s.queue.Publish(ctx, msg, 0); err != nil {
		return "", false, fmt.Errorf("republish job: %w", err)
	}

	s.logger.Info("approval resolved to already-bound job",
		zap.String("order_id", order.OrderID),
		zap.String("job_id", job.JobID))
	return job.JobID, true, nil
}

// ForceFail moves an order to FAILED from any non-final status and detaches
// its active job, if any. A job already executing against the order will find
// itself superseded at commit time and discard its result.
func (s *Service) ForceFail(ctx context.Context, orderID, reason string) (*orders.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	from := order.Status
	if err := orders.Apply(order, orders.TriggerForceFail); err != nil {
		return nil, err
	}
	order.ActiveJob = nil

	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	meta := map[string]string{}
	if reason != "" {
		meta["reason"] = reason
	}
	s.auditTransition(ctx, order, audit.ActorUser, from, orders.TriggerForceFail, meta)

	s.logger.Info("order force-failed",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("reason", reason))
	return order, nil
}

// GetOrder fetches a single order.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders lists orders, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, status orders.Status) ([]orders.Order, error) {
	return s.orders.List(ctx, status)
}

// ListAudit returns the audit trail for one order, oldest first.
func (s *Service) ListAudit(ctx context.Context, orderID string) ([]audit.Entry, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return s.audit.ListByOrder(ctx, orderID)
}

// auditTransition appends the status_changed entry for an applied trigger.
// Audit failures are logged, never propagated: the state change has already
// been committed and must not be rolled back for a missing log line.
func (s *Service) auditTransition(ctx context.Context, order *orders.Order, actor audit.Actor, from orders.Status, trigger orders.Trigger, extra map[string]string) {
	meta := map[string]string{
		"from":    string(from),
		"to":      string(order.Status),
		"trigger": string(trigger),
	}
	for k, v := range extra {
		meta[k] = v
	}
	if err := s.audit.Append(ctx, order.OrderID, actor, audit.ActionStatusChanged, meta); err != nil {
		s.logger.Error("audit append failed",
			zap.String("order_id", order.OrderID),
			zap.String("action", audit.ActionStatusChanged),
			zap.Error(err))
	}
}
