package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/services/tableside/internal/backend"
)

const (
	WaiterCallCooldown = 30 * time.Second
	ReactionCooldown   = 5 * time.Minute

	MaxCommentLength = 500

	ReactionSatisfied    = "satisfied"
	ReactionDissatisfied = "dissatisfied"
)

var (
	ErrNoTable         = errors.New("table is not identified, scan the QR code again")
	ErrInvalidReaction = errors.New("reaction must be satisfied or dissatisfied")
	ErrCommentTooLong  = fmt.Errorf("comment exceeds %d characters", MaxCommentLength)
)

// Messages shown for the softer outcomes.
const (
	ActiveCallMessage  = "There is already an active call for this table. Please wait for the waiter."
	WaiterCallFailed   = "Could not call the waiter. Please try again."
	ReactionSendFailed = "Could not send your reaction. Please try again."
)

func WaiterCallKey(tableID string) string { return "waiter-call:" + tableID }
func ReactionKey(tableID string) string   { return "reaction:" + tableID }

// ServiceBackend is the subset of the backend used by table actions.
type ServiceBackend interface {
	CreateWaiterCall(ctx context.Context, req backend.WaiterCallRequest) error
	CreateReaction(ctx context.Context, req backend.ReactionRequest) error
}

// TableActions runs waiter calls and reactions under their cooldowns.
type TableActions struct {
	throttler *Throttler
	backend   ServiceBackend
	logger    apt.Logger
}

func NewTableActions(throttler *Throttler, b ServiceBackend, logger apt.Logger) *TableActions {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if throttler == nil {
		throttler = New(logger)
	}
	return &TableActions{throttler: throttler, backend: b, logger: logger}
}

// CallWaiter asks for a waiter at tableID. A 409 from the backend means a
// call is already active; it is returned as a ConflictError carrying
// ActiveCallMessage and the cooldown stays in place.
func (a *TableActions) CallWaiter(ctx context.Context, tableID, callType string) error {
	if tableID == "" {
		return ErrNoTable
	}
	if callType == "" {
		callType = backend.WaiterCallTypeCall
	}

	err := a.throttler.Fire(ctx, WaiterCallKey(tableID), WaiterCallCooldown, func(ctx context.Context) error {
		return a.backend.CreateWaiterCall(ctx, backend.WaiterCallRequest{TableID: tableID, Type: callType})
	})
	if backend.IsConflict(err) {
		a.logger.Info("waiter already called", "table_id", tableID)
		return &backend.ConflictError{Message: ActiveCallMessage}
	}
	if err == nil {
		a.logger.Info("waiter called", "table_id", tableID, "type", callType)
	}
	return err
}

// React sends a satisfied or dissatisfied reaction with an optional comment.
func (a *TableActions) React(ctx context.Context, tableID, reactionType, comment string) error {
	if tableID == "" {
		return ErrNoTable
	}
	if reactionType != ReactionSatisfied && reactionType != ReactionDissatisfied {
		return ErrInvalidReaction
	}
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return ErrCommentTooLong
	}

	return a.throttler.Fire(ctx, ReactionKey(tableID), ReactionCooldown, func(ctx context.Context) error {
		return a.backend.CreateReaction(ctx, backend.ReactionRequest{
			TableID:      tableID,
			ReactionType: reactionType,
			Comment:      comment,
		})
	})
}

// WaiterCallRemaining returns the cooldown left for tableID.
func (a *TableActions) WaiterCallRemaining(tableID string) time.Duration {
	return a.throttler.Remaining(WaiterCallKey(tableID))
}

func (a *TableActions) ReactionRemaining(tableID string) time.Duration {
	return a.throttler.Remaining(ReactionKey(tableID))
}
