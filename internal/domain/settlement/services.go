package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/database/repositories"
	"github.com/gridshare/energy-bpp/bpp/ledger"
)

const (
	reconcileBatchSize   = 200
	reconcileParallelism = 4
)

var (
	ErrNotFound = errors.New("settlement not found")
	ErrNoLedger = errors.New("no ledger configured")
)

type Service interface {
	CreateSettlement(ctx context.Context, params CreateParams) (*models.Settlement, error)
	UpdateFromLedger(ctx context.Context, transactionID string, rec ledger.Record) ([]*models.Settlement, error)
	Reconcile(ctx context.Context, transactionID string) ([]*models.Settlement, error)
	ReconcilePending(ctx context.Context) (int, error)
	GetByTransaction(ctx context.Context, transactionID string) ([]*models.Settlement, error)
	GetLedgerHealth(ctx context.Context) (*ledger.Health, error)
	QueryTrades(ctx context.Context, query ledger.TradeQuery) ([]ledger.Record, error)
}

type service struct {
	repository Repository
	ledger     LedgerSource
	now        func() time.Time
}

// NewService wires the settlement engine. source may be nil when no ledger
// is configured; reconciliation then only happens through pushed updates.
func NewService(repository Repository, source LedgerSource) Service {
	return &service{
		repository: repository,
		ledger:     source,
		now:        time.Now,
	}
}

func (s *service) CreateSettlement(ctx context.Context, params CreateParams) (*models.Settlement, error) {
	if params.TransactionID == "" {
		return nil, errors.New("transaction id is required")
	}
	if params.ContractedQuantity <= 0 {
		return nil, fmt.Errorf("contracted quantity must be positive, got %v", params.ContractedQuantity)
	}
	role := params.Role
	if role == "" {
		role = models.RoleSeller
	}

	row, err := s.repository.Upsert(ctx, &models.Settlement{
		ID:                 uuid.NewString(),
		TransactionID:      params.TransactionID,
		OrderItemID:        params.OrderItemID,
		Role:               role,
		CounterpartyID:     params.CounterpartyID,
		ContractedQuantity: params.ContractedQuantity,
		BuyerDiscomStatus:  models.DiscomPending,
		SellerDiscomStatus: models.DiscomPending,
		Status:             models.SettlementPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement: %w", err)
	}
	return row, nil
}

// UpdateFromLedger applies rec to every settlement row of the transaction.
// Each row derives its own status; a row that is already SETTLED is left
// untouched. When the ledger speaks for a role we have no row for, that row
// is created from the existing contract first.
func (s *service) UpdateFromLedger(ctx context.Context, transactionID string, rec ledger.Record) ([]*models.Settlement, error) {
	rows, err := s.repository.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settlements: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
	}

	if role := models.SettlementRole(strings.ToUpper(rec.Role)); role == models.RoleBuyer || role == models.RoleSeller {
		if !hasRole(rows, role) {
			row, err := s.CreateSettlement(ctx, CreateParams{
				TransactionID:      transactionID,
				OrderItemID:        rec.OrderItemID,
				ContractedQuantity: rows[0].ContractedQuantity,
				Role:               role,
			})
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}

	now := s.now()
	for _, row := range rows {
		changed, err := Apply(row, rec, now)
		if err != nil {
			return nil, fmt.Errorf("failed to apply ledger record to %s/%s: %w", transactionID, row.Role, err)
		}
		if !changed {
			continue
		}

		if err := s.repository.Update(ctx, row); err != nil {
			if errors.Is(err, repositories.ErrSettlementFinal) {
				// settled concurrently; the stored row wins
				continue
			}
			return nil, fmt.Errorf("failed to save settlement: %w", err)
		}

		slog.Info("Settlement reconciled",
			slog.String("type", "ledger"),
			slog.String("transaction_id", transactionID),
			slog.String("role", string(row.Role)),
			slog.String("status", string(row.Status)),
		)
	}
	return rows, nil
}

// Reconcile pulls the ledger's current record for the transaction and applies it.
func (s *service) Reconcile(ctx context.Context, transactionID string) ([]*models.Settlement, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	rec, err := s.ledger.GetRecord(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return s.UpdateFromLedger(ctx, transactionID, *rec)
}

// ReconcilePending reconciles every unsettled transaction. Per-transaction
// failures are logged and skipped; an authentication failure aborts the run.
func (s *service) ReconcilePending(ctx context.Context) (int, error) {
	if s.ledger == nil {
		return 0, nil
	}

	rows, err := s.repository.ListUnsettled(ctx, reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unsettled: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	var txIDs []string
	for _, row := range rows {
		if _, ok := seen[row.TransactionID]; ok {
			continue
		}
		seen[row.TransactionID] = struct{}{}
		txIDs = append(txIDs, row.TransactionID)
	}

	results := make([]bool, len(txIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileParallelism)
	for i, txID := range txIDs {
		g.Go(func() error {
			_, err := s.Reconcile(gctx, txID)
			switch {
			case err == nil:
				results[i] = true
			case errors.Is(err, ledger.ErrAuthenticationFailed):
				return err
			case errors.Is(err, ledger.ErrRecordNotFound):
			default:
				slog.Warn("Failed to reconcile settlement",
					slog.String("type", "ledger"),
					slog.String("transaction_id", txID),
					slog.Any("error", err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	reconciled := 0
	for _, ok := range results {
		if ok {
			reconciled++
		}
	}
	return reconciled, nil
}

func (s *service) GetByTransaction(ctx context.Context, transactionID string) ([]*models.Settlement, error) {
	rows, err := s.repository.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settlements: %w", err)
	}
	return rows, nil
}

func (s *service) GetLedgerHealth(ctx context.Context) (*ledger.Health, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	return s.ledger.Health(ctx)
}

func (s *service) QueryTrades(ctx context.Context, query ledger.TradeQuery) ([]ledger.Record, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	return s.ledger.QueryTrades(ctx, query)
}

func hasRole(rows []*models.Settlement, role models.SettlementRole) bool {
	for _, row := range rows {
		if row.Role == role {
			return true
		}
	}
	return false
}
