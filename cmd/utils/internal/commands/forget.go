package commands

import (
	"context"
	"errors"

	"github.com/appetiteclub/apt"
)

var ErrRestaurantRequired = errors.New("restaurant id is required")

// ClearCart removes the stored cart and its owning restaurant.
func ClearCart(ctx context.Context, path string, logger apt.Logger) error {
	return forget(ctx, path, logger, "cart", cartKey, restaurantKey)
}

// ForgetTable removes the remembered table and token of a restaurant, so
// the next visit needs a fresh QR scan.
func ForgetTable(ctx context.Context, path string, logger apt.Logger, restaurantID string) error {
	if restaurantID == "" {
		return ErrRestaurantRequired
	}
	return forget(ctx, path, logger, "table", tableRefPrefix+restaurantID, tokenRefPrefix+restaurantID)
}

// ForgetCustomer removes the remembered name and phone of a restaurant.
// Order rooms of that restaurant are no longer rejoined at startup.
func ForgetCustomer(ctx context.Context, path string, logger apt.Logger, restaurantID string) error {
	if restaurantID == "" {
		return ErrRestaurantRequired
	}
	return forget(ctx, path, logger, "customer", namePrefix+restaurantID, phonePrefix+restaurantID)
}

func forget(ctx context.Context, path string, logger apt.Logger, what string, keys ...string) error {
	db, err := OpenStore(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := deleteKeys(ctx, db, keys...)
	if err != nil {
		return err
	}
	logger.Info("Removed stored "+what, "path", path, "keys", n)
	return nil
}
