package tableside

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/services/tableside/internal/backend"
	"github.com/appetiteclub/tableside/services/tableside/internal/cart"
	"github.com/appetiteclub/tableside/services/tableside/internal/checkout"
	"github.com/appetiteclub/tableside/services/tableside/internal/orders"
	"github.com/appetiteclub/tableside/services/tableside/internal/throttle"
)

// respondErr maps a component error onto a status and a customer facing
// message. fallback is used for upstream failures without a server message.
func (h *Handler) respondErr(w http.ResponseWriter, err error, fallback string) {
	status, msg := classify(err, fallback)
	apt.RespondError(w, status, msg)
}

func classify(err error, fallback string) (int, string) {
	var (
		cooldown *throttle.CooldownError
		conflict *backend.ConflictError
		submit   *checkout.SubmitError
		invalid  *backend.ValidationError
	)

	switch {
	case errors.As(err, &cooldown):
		return http.StatusTooManyRequests, cooldownMessage(cooldown)
	case errors.As(err, &conflict):
		return http.StatusConflict, backend.MessageOr(err, fallback)
	case errors.As(err, &submit):
		return upstreamStatus(submit.Err), submit.Message
	case errors.As(err, &invalid):
		if errors.Is(err, backend.ErrMissingParams) {
			return http.StatusBadRequest, backend.MessageOr(err, backend.ErrMissingParams.Error())
		}
		return http.StatusUnauthorized, backend.MessageOr(err, backend.ErrInvalidToken.Error())
	case errors.Is(err, backend.ErrMissingParams):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, checkout.ErrSubmissionInProgress),
		errors.Is(err, checkout.ErrRestaurantMismatch),
		errors.Is(err, orders.ErrStale):
		return http.StatusConflict, err.Error()
	case errors.Is(err, cart.ErrForeignItem):
		return http.StatusConflict, cart.ErrForeignItem.Error()
	case errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, cart.ErrNoRestaurant),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrNoRestaurant),
		errors.Is(err, checkout.ErrMissingName),
		errors.Is(err, checkout.ErrMissingPhone),
		errors.Is(err, checkout.ErrMissingTable),
		errors.Is(err, checkout.ErrMissingToken),
		errors.Is(err, checkout.ErrInvalidPayment),
		errors.Is(err, orders.ErrMissingOrder),
		errors.Is(err, throttle.ErrNoTable),
		errors.Is(err, throttle.ErrInvalidReaction),
		errors.Is(err, throttle.ErrCommentTooLong):
		return http.StatusBadRequest, err.Error()
	}

	return upstreamStatus(err), backend.MessageOr(err, fallback)
}

func upstreamStatus(err error) int {
	if backend.IsNetwork(err) {
		return http.StatusServiceUnavailable
	}
	var se *backend.ServerError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		return se.Status
	}
	return http.StatusBadGateway
}

func cooldownMessage(e *throttle.CooldownError) string {
	if e.Remaining >= 2*time.Minute {
		return fmt.Sprintf("Please wait %d minutes before trying again.", e.Minutes())
	}
	return fmt.Sprintf("Please wait %d seconds before trying again.", e.Seconds())
}
