package order

import (
	"context"

	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/order"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// QueryService reads the order ledger by requester.
type QueryService struct {
	store  ledger.Store
	logger *zap.Logger
}

// NewQueryService creates a new query service
func NewQueryService(store ledger.Store, logger *zap.Logger) *QueryService {
	return &QueryService{store: store, logger: logger}
}

// EventQuery filters the requester query
type EventQuery struct {
	Email     string `form:"email" binding:"required,email"`
	EventType string `form:"eventType" binding:"omitempty,oneof=ORDER_CREATED ORDER_UPDATED ORDER_DELETED"`
	Cursor    string `form:"cursor"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (q EventQuery) requesterQuery() (ledger.RequesterQuery, error) {
	email := identity.NormalizeEmail(q.Email)
	if email == "" {
		return ledger.RequesterQuery{}, shared.ErrValidation.Withf("email is required")
	}
	if q.EventType != "" && !order.EventType(q.EventType).IsValid() {
		return ledger.RequesterQuery{}, shared.ErrValidation.Withf("unknown event type %q", q.EventType)
	}
	return ledger.RequesterQuery{Email: email, EventType: q.EventType}, nil
}

// List returns one page of the requester's live ledger entries.
func (s *QueryService) List(ctx context.Context, q EventQuery) (ledger.Page, error) {
	rq, err := q.requesterQuery()
	if err != nil {
		return ledger.Page{}, err
	}
	page, err := s.store.QueryByRequester(ctx, rq, ledger.PageRequest{Cursor: q.Cursor, Limit: q.Limit}.Normalize())
	if err != nil {
		s.logger.Error("Failed to query order events", zap.String("event_type", q.EventType), zap.Error(err))
		return ledger.Page{}, err
	}
	if page.Entries == nil {
		page.Entries = []ledger.Entry{}
	}
	return page, nil
}

// Collect walks every page and returns up to max entries.
func (s *QueryService) Collect(ctx context.Context, q EventQuery, max int) ([]ledger.Entry, error) {
	rq, err := q.requesterQuery()
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Entry, 0)
	for entry, err := range ledger.Paginate(ctx, s.store, rq, q.Limit) {
		if err != nil {
			return out, err
		}
		out = append(out, entry)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}
