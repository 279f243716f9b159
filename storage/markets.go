package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/web3guy0/polyflow/types"
)

// UpsertMarket inserts or refreshes one canonical market record. Idempotent
// on id. Terminal statuses are sticky: a record already RESOLVED or CANCELLED
// ignores later non-terminal observations entirely.
func (d *DB) UpsertMarket(ctx context.Context, m *types.Market) (*UpsertOutcome, error) {
	if !m.ParallelOK() {
		return nil, types.Kindf(types.KindValidation,
			"market %s: outcomes/prices/token ids length mismatch", m.ID)
	}

	out := &UpsertOutcome{
		MarketID:    m.ID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Status:      m.Status,
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing types.Market
		res := tx.Where("id = ?", m.ID).Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			m.LastUpdated = time.Now()
			out.Created = true
			out.Prev = ""
			return tx.Create(m).Error
		}

		out.Prev = existing.Status
		if existing.Status.Terminal() && !m.Status.Terminal() {
			out.Status = existing.Status
			return nil
		}

		out.StatusChanged = existing.Status != m.Status
		m.CreatedAt = existing.CreatedAt
		m.LastUpdated = time.Now()
		// Struct-based update so the json serializer renders the slice
		// columns; a map would hand gorm raw slices.
		return tx.Model(&types.Market{}).Where("id = ?", m.ID).
			Select("condition_id", "question", "slug", "status", "outcomes",
				"outcome_prices", "clob_token_ids", "volume", "liquidity",
				"end_date", "event_id", "event_title", "last_updated").
			Updates(m).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert market %s: %w", m.ID, err)
	}
	return out, nil
}

// UpsertMarkets applies a batch, returning one outcome per record.
func (d *DB) UpsertMarkets(ctx context.Context, ms []*types.Market) ([]UpsertOutcome, error) {
	outcomes := make([]UpsertOutcome, 0, len(ms))
	for _, m := range ms {
		out, err := d.UpsertMarket(ctx, m)
		if err != nil {
			if types.IsKind(err, types.KindValidation) {
				continue
			}
			return outcomes, err
		}
		outcomes = append(outcomes, *out)
	}
	return outcomes, nil
}

// GetMarket fetches one market by id. With allowClosed=false only ACTIVE
// markets are visible.
func (d *DB) GetMarket(ctx context.Context, id string, allowClosed bool) (*types.Market, error) {
	var m types.Market
	q := d.db.WithContext(ctx).Where("id = ?", id)
	if !allowClosed {
		q = q.Where("status = ?", types.StatusActive)
	}
	if err := q.First(&m).Error; err != nil {
		return nil, notFound(err, "storage.get_market")
	}
	return &m, nil
}

// GetMarketByCondition fetches one market by condition id.
func (d *DB) GetMarketByCondition(ctx context.Context, conditionID string) (*types.Market, error) {
	var m types.Market
	err := d.db.WithContext(ctx).Where("condition_id = ?", conditionID).First(&m).Error
	if err != nil {
		return nil, notFound(err, "storage.get_market_by_condition")
	}
	return &m, nil
}

// ListActiveMarkets pages through ACTIVE markets.
func (d *DB) ListActiveMarkets(ctx context.Context, f MarketFilter) ([]*types.Market, error) {
	q := d.db.WithContext(ctx).Where("status = ?", types.StatusActive)

	if f.Query != "" {
		q = q.Where("question LIKE ?", "%"+f.Query+"%")
	}
	if f.MinVolume.IsPositive() {
		q = q.Where("volume >= ?", f.MinVolume)
	}
	switch f.OrderBy {
	case "end_date":
		q = q.Order("end_date ASC")
	case "last_updated":
		q = q.Order("last_updated DESC")
	default:
		q = q.Order("volume DESC")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var ms []*types.Market
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	return ms, nil
}

// MarketsByConditionIDs batch-fetches markets by condition id.
func (d *DB) MarketsByConditionIDs(ctx context.Context, conditionIDs []string) ([]*types.Market, error) {
	if len(conditionIDs) == 0 {
		return nil, nil
	}
	var ms []*types.Market
	err := d.db.WithContext(ctx).Where("condition_id IN ?", conditionIDs).Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return ms, nil
}

// MissingMarketIDs returns which of ids are not yet in the store.
func (d *DB) MissingMarketIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var known []string
	err := d.db.WithContext(ctx).Model(&types.Market{}).
		Where("id IN ?", ids).Pluck("id", &known).Error
	if err != nil {
		return nil, err
	}

	have := make(map[string]struct{}, len(known))
	for _, id := range known {
		have[id] = struct{}{}
	}
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ExpiredActiveMarkets returns ACTIVE markets whose end date has passed;
// the poller re-checks these for resolution.
func (d *DB) ExpiredActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error) {
	var ms []*types.Market
	q := d.db.WithContext(ctx).
		Where("status = ? AND end_date < ?", types.StatusActive, time.Now()).
		Order("end_date ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	return ms, nil
}
