package session

import (
	"github.com/appetiteclub/tableside/services/tableside/internal/durable"
)

// TableRef is a resolved (table, token) pair for one restaurant.
type TableRef struct {
	TableID string `json:"table_id"`
	Token   string `json:"token"`
}

func (r TableRef) Complete() bool {
	return r.TableID != "" && r.Token != ""
}

// ResolveTableRef picks the table and token for restaurantID. Each value is
// taken from the URL, else the durable store, else the session-scoped
// record, independently of the other. URL values are remembered.
func (v *Validator) ResolveTableRef(restaurantID, urlTable, urlToken string) TableRef {
	v.mu.Lock()
	defer v.mu.Unlock()

	if restaurantID != "" && v.store != nil {
		if urlTable != "" {
			if err := v.store.Put(durable.TableRefKey(restaurantID), urlTable); err != nil {
				v.logger.Error("cannot remember table", "restaurant_id", restaurantID, "error", err.Error())
			}
		}
		if urlToken != "" {
			if err := v.store.Put(durable.TokenRefKey(restaurantID), urlToken); err != nil {
				v.logger.Error("cannot remember token", "restaurant_id", restaurantID, "error", err.Error())
			}
		}
	}

	ref := TableRef{TableID: urlTable, Token: urlToken}
	if ref.Complete() || restaurantID == "" {
		return ref
	}

	if ref.TableID == "" {
		ref.TableID = durable.Lookup(v.store, durable.TableRefKey(restaurantID))
	}
	if ref.Token == "" {
		ref.Token = durable.Lookup(v.store, durable.TokenRefKey(restaurantID))
	}
	if ref.Complete() {
		return ref
	}

	if cached, ok := v.loadCacheLocked(); ok && cached.RestaurantID == restaurantID {
		if ref.TableID == "" {
			ref.TableID = cached.TableID
		}
		if ref.Token == "" {
			ref.Token = cached.Token
		}
	}
	return ref
}
