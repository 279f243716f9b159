package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polyflow/types"
)

type fakeIngestRepo struct {
	rows     map[string]*types.LeaderTrade
	users    map[string]*types.User
	registry map[string]*types.WatchedAddress
}

func newFakeIngestRepo() *fakeIngestRepo {
	return &fakeIngestRepo{
		rows:     make(map[string]*types.LeaderTrade),
		users:    make(map[string]*types.User),
		registry: make(map[string]*types.WatchedAddress),
	}
}

func (f *fakeIngestRepo) InsertLeaderTrade(ctx context.Context, tr *types.LeaderTrade) (bool, error) {
	if _, ok := f.rows[tr.TxID]; ok {
		return false, nil
	}
	f.rows[tr.TxID] = tr
	return true, nil
}

func (f *fakeIngestRepo) GetUserByWallet(ctx context.Context, wallet string) (*types.User, error) {
	u, ok := f.users[wallet]
	if !ok {
		return nil, types.Kindf(types.KindNotFound, "no user")
	}
	return u, nil
}

func (f *fakeIngestRepo) GetWatchedAddress(ctx context.Context, address string) (*types.WatchedAddress, error) {
	w, ok := f.registry[address]
	if !ok {
		return nil, types.Kindf(types.KindNotFound, "no watched address")
	}
	return w, nil
}

type fakePublisher struct {
	trades []types.TradeMessage
	copies []types.CopyTradeMessage
}

func (f *fakePublisher) PublishTrade(ctx context.Context, msg types.TradeMessage) error {
	f.trades = append(f.trades, msg)
	return nil
}

func (f *fakePublisher) PublishCopyTrade(ctx context.Context, msg types.CopyTradeMessage) error {
	f.copies = append(f.copies, msg)
	return nil
}

func fill(txID, wallet string) *types.LeaderTrade {
	return &types.LeaderTrade{
		TxID:          txID,
		WalletAddress: wallet,
		MarketID:      "123",
		OutcomeIndex:  1,
		Side:          types.SideBuy,
		Size:          decimal.RequireFromString("50"),
		Price:         decimal.RequireFromString("0.5"),
		AmountUSD:     decimal.RequireFromString("25"),
		TxHash:        "0xhash",
		Timestamp:     time.Now(),
	}
}

func TestIngestFillPublishesTradeAlways(t *testing.T) {
	repo := newFakeIngestRepo()
	pub := &fakePublisher{}
	ing := NewIngestor(repo, pub)

	require.NoError(t, ing.IngestFill(context.Background(), fill("t1", "0xRANDOM")))

	require.Len(t, pub.trades, 1)
	assert.Equal(t, "123", pub.trades[0].MarketID)
	assert.Equal(t, types.SideBuy, pub.trades[0].Side)
	assert.Empty(t, pub.copies, "untracked onchain wallet gets no copy fan-out")
}

func TestIngestFillPublishesCopyTradeForTrackedWallets(t *testing.T) {
	repo := newFakeIngestRepo()
	repo.users["0xb07"] = &types.User{ID: 1, WalletAddress: "0xb07"}
	repo.registry["0x1ead"] = &types.WatchedAddress{Address: "0x1ead", Type: types.AddressCopyLeader}
	pub := &fakePublisher{}
	ing := NewIngestor(repo, pub)

	require.NoError(t, ing.IngestFill(context.Background(), fill("t2", "0xB07")))
	require.NoError(t, ing.IngestFill(context.Background(), fill("t3", "0x1EAD")))

	require.Len(t, pub.copies, 2)
	assert.Equal(t, types.ClassBotUser, pub.copies[0].AddressType)
	assert.Equal(t, "0xb07", pub.copies[0].UserAddress, "wallet lowercased on the wire")
	assert.Equal(t, types.ClassExternalLeader, pub.copies[1].AddressType)
}

func TestIngestFillCarriesPositionID(t *testing.T) {
	repo := newFakeIngestRepo()
	repo.users["0xb07"] = &types.User{ID: 1, WalletAddress: "0xb07"}
	pub := &fakePublisher{}
	ing := NewIngestor(repo, pub)

	tr := fill("t6", "0xb07")
	tr.PositionID = "pos-42"
	require.NoError(t, ing.IngestFill(context.Background(), tr))

	require.Len(t, pub.copies, 1)
	assert.Equal(t, "pos-42", pub.copies[0].PositionID)
}

func TestIngestFillIdempotentOnTxID(t *testing.T) {
	repo := newFakeIngestRepo()
	pub := &fakePublisher{}
	ing := NewIngestor(repo, pub)

	require.NoError(t, ing.IngestFill(context.Background(), fill("t4", "0xabc")))
	require.NoError(t, ing.IngestFill(context.Background(), fill("t4", "0xabc")))

	assert.Len(t, repo.rows, 1)
	assert.Len(t, pub.trades, 1, "duplicate must not re-publish")
}

func TestIngestFillClassificationIsReadOnly(t *testing.T) {
	repo := newFakeIngestRepo()
	ing := NewIngestor(repo, &fakePublisher{})

	require.NoError(t, ing.IngestFill(context.Background(), fill("t5", "0xnew")))
	assert.Empty(t, repo.registry, "ingestion never creates registry rows")
}
