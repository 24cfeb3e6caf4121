package settlement

import (
	"context"

	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/ledger"
)

//go:generate mockgen -source=repository.go -destination=mock/repository.go -package=mock

type Repository interface {
	Upsert(ctx context.Context, s *models.Settlement) (*models.Settlement, error)
	Get(ctx context.Context, transactionID string, role models.SettlementRole) (*models.Settlement, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*models.Settlement, error)
	ListUnsettled(ctx context.Context, limit int) ([]*models.Settlement, error)
	Update(ctx context.Context, s *models.Settlement) error
}

// LedgerSource is the read side of the external ledger.
type LedgerSource interface {
	GetRecord(ctx context.Context, transactionID string) (*ledger.Record, error)
	QueryTrades(ctx context.Context, query ledger.TradeQuery) ([]ledger.Record, error)
	Health(ctx context.Context) (*ledger.Health, error)
}
