package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropship-labs/fulfillment/internal/audit"
	"github.com/dropship-labs/fulfillment/internal/clients"
	"github.com/dropship-labs/fulfillment/internal/jobs"
	"github.com/dropship-labs/fulfillment/internal/orders"
)

// JobHandler adapts the service to the worker pool for one job type.
type JobHandler struct {
	svc *Service
	typ jobs.Type
}

// Handler returns the pool handler for the given job type.
func (s *Service) Handler(t jobs.Type) *JobHandler {
	return &JobHandler{svc: s, typ: t}
}

// Handle executes one delivered job message. A nil return acknowledges the
// message; an error leaves it on the queue for redelivery.
func (h *JobHandler) Handle(ctx context.Context, msg jobs.Message) error {
	return h.svc.runJob(ctx, msg, h.typ)
}

// runJob is the single execution path for purchase and forward jobs:
//
//  1. claim the job row (exactly one worker wins a duplicate delivery)
//  2. verify the order still expects this job, advancing RETRYING when the
//     message is a due retry
//  3. call the external system under the per-call timeout
//  4. commit against a fresh read of the order; if the order moved on while
//     the call ran, the result is discarded as a no-op
func (s *Service) runJob(ctx context.Context, msg jobs.Message, typ jobs.Type) error {
	log := s.logger.With(
		zap.String("job_id", msg.JobID),
		zap.String("order_id", msg.OrderID),
		zap.String("job_type", string(typ)),
		zap.String("correlation_id", msg.CorrelationID))

	job, err := s.jobs.Get(ctx, msg.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Warn("message references unknown job, dropping")
		return nil
	}
	if job.Type != typ {
		log.Warn("message type mismatch, dropping", zap.String("row_type", string(job.Type)))
		return nil
	}

	if err := s.jobs.Claim(ctx, job); err != nil {
		if errors.Is(err, jobs.ErrAlreadyClaimed) {
			// Duplicate delivery or a concurrent worker won. Before
			// acknowledging, make sure the order's bound job still has its
			// dispatch message: this delivery may be the only signal left if
			// a successor's publish failed mid-commit.
			log.Debug("job already claimed")
			return s.republishBoundJob(ctx, job.OrderID, log)
		}
		return err
	}

	order, err := s.orders.Get(ctx, job.OrderID)
	if err != nil {
		// The job row stays running; recovery of interrupted running jobs is
		// an operational concern, not a dispatch one.
		log.Error("load order after claim failed", zap.Error(err))
		return err
	}

	order, ok, err := s.prepareRun(ctx, job, order, log)
	if err != nil {
		return err
	}
	if !ok {
		s.discard(ctx, job, "superseded before execution", log)
		return nil
	}

	result, callErr := s.callExternal(ctx, typ, order)
	s.auditAttempt(ctx, job, typ, callErr)

	return s.commit(ctx, job, typ, result, callErr, log)
}

// prepareRun validates that the order still expects this job and, for a due
// retry, moves RETRYING back into the executing status. ok=false means the
// job is stale and must be discarded without calling anyone.
func (s *Service) prepareRun(ctx context.Context, job *jobs.Job, order *orders.Order, log *zap.Logger) (*orders.Order, bool, error) {
	if order == nil {
		return nil, false, nil
	}
	if order.ActiveJob == nil || order.ActiveJob.ID != job.JobID {
		return nil, false, nil
	}

	executing := executingStatus(job.Type)
	switch order.Status {
	case executing:
		return order, true, nil
	case orders.StatusRetrying:
		from := order.Status
		trigger := retryDueTrigger(job.Type)
		if err := orders.Apply(order, trigger); err != nil {
			return nil, false, nil
		}
		if err := s.orders.Update(ctx, order); err != nil {
			if errors.Is(err, orders.ErrVersionConflict) {
				// Someone moved the order while the retry was due
				// (force-fail, typically). Discard.
				return nil, false, nil
			}
			return nil, false, err
		}
		s.auditTransition(ctx, order, audit.ActorSystem, from, trigger, map[string]string{
			"job_id": job.JobID,
		})
		log.Info("retry due", zap.Int("attempt", job.Attempt))
		return order, true, nil
	default:
		return nil, false, nil
	}
}

// callResult carries whichever identifiers the external call produced.
type callResult struct {
	supplierOrderID string
	forwarderJobID  string
	trackingNumber  string
}

// callExternal runs the purchase or shipment call under the configured
// timeout.
func (s *Service) callExternal(ctx context.Context, typ jobs.Type, order *orders.Order) (callResult, error) {
	cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := s.nowFunc()
	var res callResult
	var err error
	switch typ {
	case jobs.TypePurchase:
		var pr *clients.PurchaseResult
		pr, err = s.supplier.PlaceOrder(cctx, order)
		if pr != nil {
			res.supplierOrderID = pr.SupplierOrderID
		}
	default:
		var sr *clients.ShipmentResult
		sr, err = s.forwarder.CreateShipment(cctx, order)
		if sr != nil {
			res.forwarderJobID = sr.ForwarderJobID
			res.trackingNumber = sr.TrackingNumber
		}
	}
	s.metrics.ExternalCallDuration(ctx, string(typ), time.Since(start), err == nil)
	return res, err
}

// auditAttempt records every external call attempt, success or not. Together
// with the status_changed entries this keeps the audit trail a complete
// account of what the system did.
func (s *Service) auditAttempt(ctx context.Context, job *jobs.Job, typ jobs.Type, callErr error) {
	action := audit.ActionPurchaseAttempt
	if typ == jobs.TypeForward {
		action = audit.ActionForwardAttempt
	}
	meta := map[string]string{
		"job_id":  job.JobID,
		"attempt": strconv.Itoa(job.Attempt),
	}
	if callErr == nil {
		meta["outcome"] = "success"
	} else {
		meta["outcome"] = string(clients.KindOf(callErr))
		if code := clients.CodeOf(callErr); code != "" {
			meta["code"] = code
		}
		meta["error"] = callErr.Error()
	}
	if err := s.audit.Append(ctx, job.OrderID, audit.ActorSystem, action, meta); err != nil {
		s.logger.Error("audit append failed",
			zap.String("order_id", job.OrderID),
			zap.String("action", action),
			zap.Error(err))
	}
}

// commit applies the call outcome against a fresh read of the order. The
// fresh read catches anything that happened during the external call: if the
// order no longer points at this job, the result is discarded and the
// external side effect is left for manual reconciliation.
func (s *Service) commit(ctx context.Context, job *jobs.Job, typ jobs.Type, result callResult, callErr error, log *zap.Logger) error {
	order, err := s.orders.Get(ctx, job.OrderID)
	if err != nil {
		log.Error("load order for commit failed", zap.Error(err))
		return err
	}
	if order == nil || order.ActiveJob == nil || order.ActiveJob.ID != job.JobID ||
		order.Status != executingStatus(typ) {
		s.discard(ctx, job, "superseded during external call", log)
		return nil
	}

	if callErr == nil {
		return s.commitSuccess(ctx, job, typ, result, order, log)
	}
	return s.commitFailure(ctx, job, typ, callErr, order, log)
}

func (s *Service) commitSuccess(ctx context.Context, job *jobs.Job, typ jobs.Type, result callResult, order *orders.Order, log *zap.Logger) error {
	from := order.Status
	var trigger orders.Trigger
	switch typ {
	case jobs.TypePurchase:
		trigger = orders.TriggerPurchaseSucceeded
		order.SupplierOrderID = result.supplierOrderID
	default:
		trigger = orders.TriggerForwardSucceeded
		order.ForwarderJobID = result.forwarderJobID
		order.TrackingNumber = result.trackingNumber
	}
	if err := orders.Apply(order, trigger); err != nil {
		s.discard(ctx, job, "superseded during external call", log)
		return nil
	}
	order.ActiveJob = nil

	if err := s.orders.Update(ctx, order); err != nil {
		if errors.Is(err, orders.ErrVersionConflict) {
			s.discard(ctx, job, "superseded during external call", log)
			return nil
		}
		log.Error("commit success failed", zap.Error(err))
		return err
	}

	s.auditTransition(ctx, order, audit.ActorSystem, from, trigger, map[string]string{
		"job_id": job.JobID,
	})
	if err := s.jobs.MarkDone(ctx, job, ""); err != nil {
		log.Error("mark job done failed", zap.Error(err))
	}
	s.metrics.JobOutcome(ctx, string(typ), "success")
	log.Info("job succeeded", zap.Int("attempt", job.Attempt), zap.String("to", string(order.Status)))
	return nil
}

func (s *Service) commitFailure(ctx context.Context, job *jobs.Job, typ jobs.Type, callErr error, order *orders.Order, log *zap.Logger) error {
	kind := jobs.KindPermanent
	if clients.KindOf(callErr) == clients.KindTransient {
		kind = jobs.KindTransient
	}
	decision := s.policy.Decide(job.Attempt, kind)
	if !decision.Retry {
		return s.escalate(ctx, job, typ, callErr, order, log)
	}

	from := order.Status
	if err := orders.Apply(order, orders.TriggerRetryScheduled); err != nil {
		s.discard(ctx, job, "superseded during external call", log)
		return nil
	}

	now := s.nowFunc().UTC()
	next := jobs.Job{
		JobID:       uuid.New().String(),
		OrderID:     job.OrderID,
		Type:        typ,
		Attempt:     job.Attempt + 1,
		ScheduledAt: now.Add(decision.Delay),
	}
	if err := s.jobs.Create(ctx, next); err != nil {
		log.Error("create retry job failed", zap.Error(err))
		return err
	}

	order.ActiveJob = &orders.ActiveJob{
		ID:          next.JobID,
		Type:        string(typ),
		Attempt:     next.Attempt,
		ScheduledAt: next.ScheduledAt,
	}
	if err := s.orders.Update(ctx, order); err != nil {
		if errors.Is(err, orders.ErrVersionConflict) {
			// The order moved while we were scheduling the retry. The next
			// job row never gets a message, so it stays inert.
			s.discard(ctx, job, "superseded during external call", log)
			return nil
		}
		log.Error("commit retry failed", zap.Error(err))
		return err
	}

	s.auditTransition(ctx, order, audit.ActorSystem, from, orders.TriggerRetryScheduled, map[string]string{
		"job_id":      job.JobID,
		"next_job_id": next.JobID,
		"error":       callErr.Error(),
	})

	msg := jobs.Message{
		JobID:         next.JobID,
		OrderID:       next.OrderID,
		Type:          typ,
		Attempt:       next.Attempt,
		CorrelationID: uuid.New().String(),
	}
	if err := s.queue.Publish(ctx, msg, decision.Delay); err != nil {
		log.Error("publish retry failed", zap.Error(err))
		return err
	}
	if err := s.jobs.MarkDone(ctx, job, "transient failure, retry scheduled"); err != nil {
		log.Error("mark job done failed", zap.Error(err))
	}
	s.metrics.JobOutcome(ctx, string(typ), "retry")
	log.Warn("job failed, retry scheduled",
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", decision.Delay),
		zap.Error(callErr))
	return nil
}

// escalate parks the order in MANUAL_REVIEW: the failure is either permanent
// or the attempt budget is exhausted. The job row goes dead and no further
// job is scheduled.
func (s *Service) escalate(ctx context.Context, job *jobs.Job, typ jobs.Type, callErr error, order *orders.Order, log *zap.Logger) error {
	from := order.Status
	if err := orders.Apply(order, orders.TriggerEscalate); err != nil {
		s.discard(ctx, job, "superseded during external call", log)
		return nil
	}
	order.ActiveJob = nil

	if err := s.orders.Update(ctx, order); err != nil {
		if errors.Is(err, orders.ErrVersionConflict) {
			s.discard(ctx, job, "superseded during external call", log)
			return nil
		}
		log.Error("commit escalation failed", zap.Error(err))
		return err
	}

	s.auditTransition(ctx, order, audit.ActorSystem, from, orders.TriggerEscalate, map[string]string{
		"job_id":  job.JobID,
		"attempt": strconv.Itoa(job.Attempt),
		"reason":  callErr.Error(),
	})
	if err := s.jobs.MarkDead(ctx, job, callErr.Error()); err != nil {
		log.Error("mark job dead failed", zap.Error(err))
	}
	s.metrics.JobOutcome(ctx, string(typ), "escalated")
	log.Warn("job escalated to manual review",
		zap.Int("attempt", job.Attempt),
		zap.Error(callErr))
	return nil
}

// republishBoundJob re-sends the dispatch message for the order's bound job
// when that job is still queued. Committing the order before publishing means
// a failed publish leaves a bound job row no message will ever reference;
// redeliveries of the superseded message land here and close that gap. The
// original delay is preserved when the job's due time has not passed, and a
// duplicate message is harmless since the claim admits a single runner.
func (s *Service) republishBoundJob(ctx context.Context, orderID string, log *zap.Logger) error {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil || order.ActiveJob == nil {
		return nil
	}
	bound, err := s.jobs.Get(ctx, order.ActiveJob.ID)
	if err != nil {
		return err
	}
	if bound == nil || bound.Status != jobs.StatusQueued {
		return nil
	}

	delay := bound.ScheduledAt.Sub(s.nowFunc())
	if delay < 0 {
		delay = 0
	}
	msg := jobs.Message{
		JobID:         bound.JobID,
		OrderID:       orderID,
		Type:          bound.Type,
		Attempt:       bound.Attempt,
		CorrelationID: uuid.New().String(),
	}
	if err := s.queue.Publish(ctx, msg, delay); err != nil {
		return fmt.Errorf("republish bound job: %w", err)
	}
	log.Info("republished message for bound job",
		zap.String("bound_job_id", bound.JobID),
		zap.Int("bound_attempt", bound.Attempt))
	return nil
}

// discard finishes a job whose result no longer applies. The order is left
// untouched.
func (s *Service) discard(ctx context.Context, job *jobs.Job, note string, log *zap.Logger) {
	if err := s.jobs.MarkDone(ctx, job, "stale: "+note); err != nil {
		log.Error("mark stale job done failed", zap.Error(err))
	}
	s.metrics.JobOutcome(ctx, string(job.Type), "discarded")
	log.Info("stale job result discarded", zap.String("note", note))
}

func executingStatus(t jobs.Type) orders.Status {
	if t == jobs.TypePurchase {
		return orders.StatusSupplierOrdering
	}
	return orders.StatusForwarderSending
}

func retryDueTrigger(t jobs.Type) orders.Trigger {
	if t == jobs.TypePurchase {
		return orders.TriggerPurchaseRetryDue
	}
	return orders.TriggerForwardRetryDue
}
