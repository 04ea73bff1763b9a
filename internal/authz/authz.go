package authz

import (
	"github.com/google/uuid"

	"market-core/internal/domain"
	"market-core/internal/fault"
)

// Action names every command the gate knows about.
type Action string

const (
	ActionCreateProduct      Action = "create_product"
	ActionUpdateProduct      Action = "update_product"
	ActionDeleteProduct      Action = "delete_product"
	ActionAddToCart          Action = "add_to_cart"
	ActionCheckout           Action = "checkout"
	ActionAdvanceOrderStatus Action = "advance_order_status"
	ActionCancelOrder        Action = "cancel_order"
	ActionUpdateProfile      Action = "update_profile"
)

// Subject is the acting identity as the gate sees it. Informational sessions
// (quick login) carry a profile but may not write.
type Subject struct {
	Authenticated bool
	Informational bool
	AccountID     uuid.UUID
	Role          string
}

// SubjectFrom builds a Subject from the current session/profile pair. Either
// may be nil.
func SubjectFrom(session *domain.Session, profile *domain.Profile) Subject {
	sub := Subject{}
	if session == nil || profile == nil {
		return sub
	}
	sub.Authenticated = true
	sub.Informational = session.Informational
	sub.AccountID = session.AccountID
	sub.Role = profile.Role
	return sub
}

// Authorize is the pure predicate applied before every command touches
// persistence. The remote backend re-checks the same policies server-side;
// this gate only exists so rejection does not cost a round-trip.
func Authorize(sub Subject, action Action, target any) error {
	// Every action the gate handles mutates state.
	if !sub.Authenticated {
		return fault.Unauthorized("authentication required")
	}
	if sub.Informational {
		return fault.Unauthorized("a full login is required for this action")
	}

	switch action {
	case ActionCreateProduct, ActionUpdateProduct, ActionDeleteProduct, ActionAdvanceOrderStatus:
		if sub.Role != domain.RoleSeller {
			return fault.Unauthorized("seller role required")
		}
	case ActionAddToCart, ActionCheckout:
		if sub.Role != domain.RoleBuyer {
			return fault.Unauthorized("buyer role required")
		}
	case ActionCancelOrder, ActionUpdateProfile:
		// Authenticated non-informational session suffices; finer checks
		// (phone match, line ownership) belong to the order service.
	default:
		return fault.Unauthorized("unknown action")
	}

	switch action {
	case ActionUpdateProduct, ActionDeleteProduct:
		product, ok := target.(*domain.Product)
		if !ok || product == nil {
			return fault.Unauthorized("no product to authorize against")
		}
		if product.OwnerAccountID != sub.AccountID {
			return fault.Unauthorized("only the owner may modify this product")
		}
	}

	return nil
}
