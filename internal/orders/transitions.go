package orders

import "fmt"

// Trigger names an event that may move an order between statuses.
type Trigger string

const (
	TriggerExecutePurchase   Trigger = "execute_purchase"
	TriggerPurchaseSucceeded Trigger = "purchase_succeeded"
	TriggerSendToForwarder   Trigger = "send_to_forwarder"
	TriggerForwardSucceeded  Trigger = "forward_succeeded"
	TriggerRetryScheduled    Trigger = "retry_scheduled"
	TriggerPurchaseRetryDue  Trigger = "purchase_retry_due"
	TriggerForwardRetryDue   Trigger = "forward_retry_due"
	TriggerEscalate          Trigger = "escalate"
	TriggerDeliveryConfirmed Trigger = "delivery_confirmed"
	TriggerForceFail         Trigger = "force_fail"
)

// transitions is the single source of truth for the order lifecycle. Every
// status mutation in the repository goes through Apply; nothing writes the
// status field directly.
var transitions = map[Status]map[Trigger]Status{
	StatusPending: {
		TriggerExecutePurchase: StatusSupplierOrdering,
		TriggerForceFail:       StatusFailed,
	},
	StatusSupplierOrdering: {
		TriggerPurchaseSucceeded: StatusOrderedSupplier,
		TriggerRetryScheduled:    StatusRetrying,
		TriggerEscalate:          StatusManualReview,
		TriggerForceFail:         StatusFailed,
	},
	StatusOrderedSupplier: {
		TriggerSendToForwarder: StatusForwarderSending,
		TriggerForceFail:       StatusFailed,
	},
	StatusForwarderSending: {
		TriggerForwardSucceeded: StatusSentToForwarder,
		TriggerRetryScheduled:   StatusRetrying,
		TriggerEscalate:         StatusManualReview,
		TriggerForceFail:        StatusFailed,
	},
	StatusRetrying: {
		TriggerPurchaseRetryDue: StatusSupplierOrdering,
		TriggerForwardRetryDue:  StatusForwarderSending,
		TriggerEscalate:         StatusManualReview,
		TriggerForceFail:        StatusFailed,
	},
	StatusSentToForwarder: {
		TriggerDeliveryConfirmed: StatusDone,
		TriggerForceFail:         StatusFailed,
	},
	StatusManualReview: {
		TriggerForceFail: StatusFailed,
	},
	// DONE and FAILED have no outgoing edges.
}

// InvalidTransitionError is returned when the order's current status is not a
// valid source for the requested trigger. No mutation happens.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: trigger %q not allowed from status %s", e.OrderID, e.Trigger, e.From)
}

// CanApply reports whether trigger is valid from the given status.
func CanApply(from Status, trigger Trigger) bool {
	_, ok := transitions[from][trigger]
	return ok
}

// Next returns the destination status for a valid (from, trigger) edge.
func Next(from Status, trigger Trigger) (Status, bool) {
	to, ok := transitions[from][trigger]
	return to, ok
}

// Apply validates the trigger against the order's current status and advances
// it in place. It returns *InvalidTransitionError when the edge does not
// exist.
func Apply(o *Order, trigger Trigger) error {
	to, ok := transitions[o.Status][trigger]
	if !ok {
		return &InvalidTransitionError{OrderID: o.OrderID, From: o.Status, Trigger: trigger}
	}
	o.Status = to
	return nil
}
