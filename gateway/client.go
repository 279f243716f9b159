package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/storage"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GATEWAY CLIENT - storage.Repository over the HTTP API gateway
// ═══════════════════════════════════════════════════════════════════════════════
//
// Deployed with SKIP_DB=true, the process carries no database credentials and
// every persistence call goes through the gateway instead. Endpoints mirror
// the repository surface one-to-one; the gateway owns transactions and
// conflict handling, so this client stays a thin proxy.
// ═══════════════════════════════════════════════════════════════════════════════

const requestTimeout = 10 * time.Second

// Client implements storage.Repository against the API gateway.
type Client struct {
	http *resty.Client
}

var _ storage.Repository = (*Client)(nil)

func NewClient(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

// call runs one gateway request and maps the status onto the error taxonomy.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req = req.SetBody(body)
	}
	if out != nil {
		req = req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return types.E(types.KindUpstreamUnavailable, "gateway."+path, err)
	}
	switch {
	case resp.IsSuccess():
		return nil
	case resp.StatusCode() == http.StatusNotFound:
		return types.Kindf(types.KindNotFound, "gateway: %s %s not found", method, path)
	case resp.StatusCode() == http.StatusTooManyRequests:
		return types.Kindf(types.KindUpstreamThrottled, "gateway: %s %s throttled", method, path)
	case resp.StatusCode() >= 500:
		return types.Kindf(types.KindUpstreamUnavailable, "gateway: %s %s returned %d", method, path, resp.StatusCode())
	default:
		return types.Kindf(types.KindValidation, "gateway: %s %s rejected with %d: %s",
			method, path, resp.StatusCode(), resp.String())
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

// ───────────────────────────────────────────────────────────────────────────────
// Markets

func (c *Client) UpsertMarket(ctx context.Context, m *types.Market) (*storage.UpsertOutcome, error) {
	var out storage.UpsertOutcome
	if err := c.post(ctx, "/markets/upsert", m, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpsertMarkets(ctx context.Context, ms []*types.Market) ([]storage.UpsertOutcome, error) {
	var out []storage.UpsertOutcome
	if err := c.post(ctx, "/markets/upsert_batch", ms, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetMarket(ctx context.Context, id string, allowClosed bool) (*types.Market, error) {
	var m types.Market
	path := fmt.Sprintf("/markets/%s?allow_closed=%t", id, allowClosed)
	if err := c.get(ctx, path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) GetMarketByCondition(ctx context.Context, conditionID string) (*types.Market, error) {
	var m types.Market
	if err := c.get(ctx, "/markets/by_condition/"+conditionID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) ListActiveMarkets(ctx context.Context, f storage.MarketFilter) ([]*types.Market, error) {
	var ms []*types.Market
	if err := c.post(ctx, "/markets/list", f, &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

func (c *Client) MarketsByConditionIDs(ctx context.Context, conditionIDs []string) ([]*types.Market, error) {
	var ms []*types.Market
	body := map[string][]string{"condition_ids": conditionIDs}
	if err := c.post(ctx, "/markets/by_conditions", body, &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

func (c *Client) MissingMarketIDs(ctx context.Context, ids []string) ([]string, error) {
	var missing []string
	body := map[string][]string{"ids": ids}
	if err := c.post(ctx, "/markets/missing", body, &missing); err != nil {
		return nil, err
	}
	return missing, nil
}

func (c *Client) ExpiredActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error) {
	var ms []*types.Market
	if err := c.get(ctx, "/markets/expired?limit="+strconv.Itoa(limit), &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

// ───────────────────────────────────────────────────────────────────────────────
// Watched markets

func (c *Client) UpsertWatched(ctx context.Context, w *types.WatchedMarket) error {
	return c.post(ctx, "/watched/upsert", w, nil)
}

func (c *Client) ListWatched(ctx context.Context) ([]*types.WatchedMarket, error) {
	var ws []*types.WatchedMarket
	if err := c.get(ctx, "/watched", &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *Client) DeleteWatched(ctx context.Context, marketIDs []string) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	body := map[string][]string{"market_ids": marketIDs}
	if err := c.post(ctx, "/watched/delete", body, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// ───────────────────────────────────────────────────────────────────────────────
// Positions

func (c *Client) TriggerPositions(ctx context.Context, limit int) ([]*types.Position, error) {
	var ps []*types.Position
	if err := c.get(ctx, "/positions/triggers?limit="+strconv.Itoa(limit), &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func (c *Client) SavePosition(ctx context.Context, p *types.Position) error {
	return c.post(ctx, "/positions", p, p)
}

func (c *Client) ActivePositionByToken(ctx context.Context, userID int64, tokenID string) (*types.Position, error) {
	var p types.Position
	path := fmt.Sprintf("/positions/active?user_id=%d&token_id=%s", userID, tokenID)
	if err := c.get(ctx, path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) PositionsByUser(ctx context.Context, userID int64) ([]*types.Position, error) {
	var ps []*types.Position
	if err := c.get(ctx, fmt.Sprintf("/positions?user_id=%d", userID), &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func (c *Client) ClosePosition(ctx context.Context, id uint, exitPrice decimal.Decimal) error {
	body := map[string]string{"exit_price": exitPrice.String()}
	return c.post(ctx, fmt.Sprintf("/positions/%d/close", id), body, nil)
}

func (c *Client) ReducePosition(ctx context.Context, id uint, soldTokens, currentPrice decimal.Decimal) error {
	body := map[string]string{
		"sold_tokens":   soldTokens.String(),
		"current_price": currentPrice.String(),
	}
	return c.post(ctx, fmt.Sprintf("/positions/%d/reduce", id), body, nil)
}

// ───────────────────────────────────────────────────────────────────────────────
// Copy allocations

func (c *Client) ActiveAllocationsForLeader(ctx context.Context, leaderAddress string) ([]*types.CopyAllocation, error) {
	var as []*types.CopyAllocation
	if err := c.get(ctx, "/allocations/leader/"+types.NormalizeWallet(leaderAddress), &as); err != nil {
		return nil, err
	}
	return as, nil
}

func (c *Client) ActiveAllocationForFollower(ctx context.Context, followerID int64) (*types.CopyAllocation, error) {
	var a types.CopyAllocation
	if err := c.get(ctx, fmt.Sprintf("/allocations/follower/%d", followerID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) SaveAllocation(ctx context.Context, a *types.CopyAllocation) error {
	return c.post(ctx, "/allocations", a, a)
}

func (c *Client) DeactivateAllocations(ctx context.Context, followerID int64) error {
	body := map[string]int64{"follower_id": followerID}
	return c.post(ctx, "/allocations/deactivate", body, nil)
}

func (c *Client) ApplyCopyResult(ctx context.Context, allocationID uint, invested, pnl, budgetDelta decimal.Decimal) error {
	body := map[string]string{
		"invested":     invested.String(),
		"pnl":          pnl.String(),
		"budget_delta": budgetDelta.String(),
	}
	return c.post(ctx, fmt.Sprintf("/allocations/%d/apply", allocationID), body, nil)
}

// ───────────────────────────────────────────────────────────────────────────────
// Raw leader trades

func (c *Client) InsertLeaderTrade(ctx context.Context, tr *types.LeaderTrade) (bool, error) {
	var out struct {
		Created bool `json:"created"`
	}
	if err := c.post(ctx, "/trades/leader", tr, &out); err != nil {
		return false, err
	}
	return out.Created, nil
}

func (c *Client) LeaderTradeByTx(ctx context.Context, txID string) (*types.LeaderTrade, error) {
	var tr types.LeaderTrade
	if err := c.get(ctx, "/trades/leader/"+txID, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (c *Client) LeaderPositionBefore(ctx context.Context, wallet, marketID string, outcomeIdx int, ts time.Time) (decimal.Decimal, error) {
	var out struct {
		Size decimal.Decimal `json:"size"`
	}
	path := fmt.Sprintf("/trades/leader/position_before?wallet=%s&market_id=%s&outcome_index=%d&before=%s",
		types.NormalizeWallet(wallet), marketID, outcomeIdx, ts.UTC().Format(time.RFC3339))
	if err := c.get(ctx, path, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Size, nil
}

func (c *Client) SmartTradesSince(ctx context.Context, since time.Time) ([]*types.LeaderTrade, error) {
	var trs []*types.LeaderTrade
	path := "/trades/smart/since?ts=" + since.UTC().Format(time.RFC3339Nano)
	if err := c.get(ctx, path, &trs); err != nil {
		return nil, err
	}
	return trs, nil
}

func (c *Client) DistinctSmartMarketIDs(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	path := "/trades/smart/markets?since=" + since.UTC().Format(time.RFC3339)
	if err := c.get(ctx, path, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// ───────────────────────────────────────────────────────────────────────────────
// Normalized smart-wallet trades

func (c *Client) LatestSmartTradeTime(ctx context.Context) (time.Time, error) {
	var out struct {
		Latest *time.Time `json:"latest"`
	}
	if err := c.get(ctx, "/trades/smart/latest", &out); err != nil {
		return time.Time{}, err
	}
	if out.Latest == nil {
		return time.Time{}, nil
	}
	return *out.Latest, nil
}

func (c *Client) UpsertSmartTrade(ctx context.Context, t *types.SmartWalletTrade) error {
	return c.post(ctx, "/trades/smart", t, nil)
}

func (c *Client) SmartTradeVariants(ctx context.Context, canonicalID string) ([]*types.SmartWalletTrade, error) {
	var ts []*types.SmartWalletTrade
	if err := c.get(ctx, "/trades/smart/variants?id="+canonicalID, &ts); err != nil {
		return nil, err
	}
	return ts, nil
}

func (c *Client) DeleteSmartTrades(ctx context.Context, tradeIDs []string) error {
	if len(tradeIDs) == 0 {
		return nil
	}
	body := map[string][]string{"trade_ids": tradeIDs}
	return c.post(ctx, "/trades/smart/delete", body, nil)
}

func (c *Client) HasPriorSmartTrade(ctx context.Context, wallet, conditionID string, before time.Time) (bool, error) {
	var out struct {
		Prior bool `json:"prior"`
	}
	path := fmt.Sprintf("/trades/smart/prior?wallet=%s&condition_id=%s&before=%s",
		types.NormalizeWallet(wallet), conditionID, before.UTC().Format(time.RFC3339Nano))
	if err := c.get(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Prior, nil
}

func (c *Client) InsertInvalidTrade(ctx context.Context, iv *types.InvalidTrade) error {
	return c.post(ctx, "/trades/invalid", iv, nil)
}

func (c *Client) AppendShareable(ctx context.Context, s *types.SharedTrade) (bool, error) {
	var out struct {
		Created bool `json:"created"`
	}
	if err := c.post(ctx, "/trades/share", s, &out); err != nil {
		return false, err
	}
	return out.Created, nil
}

// ───────────────────────────────────────────────────────────────────────────────
// Users and the leader registry

func (c *Client) ListUserWallets(ctx context.Context) ([]types.User, error) {
	var us []types.User
	if err := c.get(ctx, "/users", &us); err != nil {
		return nil, err
	}
	return us, nil
}

func (c *Client) RecentUsers(ctx context.Context, n int) ([]types.User, error) {
	var us []types.User
	if err := c.get(ctx, "/users/recent?n="+strconv.Itoa(n), &us); err != nil {
		return nil, err
	}
	return us, nil
}

func (c *Client) GetUserByWallet(ctx context.Context, wallet string) (*types.User, error) {
	var u types.User
	if err := c.get(ctx, "/users/by_wallet/"+types.NormalizeWallet(wallet), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetWatchedAddress(ctx context.Context, address string) (*types.WatchedAddress, error) {
	var w types.WatchedAddress
	if err := c.get(ctx, "/addresses/"+types.NormalizeWallet(address), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) EnsureWatchedAddress(ctx context.Context, w *types.WatchedAddress) (*types.WatchedAddress, error) {
	var out types.WatchedAddress
	if err := c.post(ctx, "/addresses/ensure", w, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ───────────────────────────────────────────────────────────────────────────────
// Redemption workflow

func (c *Client) EnsureResolvedPosition(ctx context.Context, rp *types.ResolvedPosition) (bool, error) {
	var out struct {
		Created bool `json:"created"`
	}
	if err := c.post(ctx, "/redemptions/ensure", rp, &out); err != nil {
		return false, err
	}
	return out.Created, nil
}

func (c *Client) PendingResolvedPositions(ctx context.Context, limit int) ([]*types.ResolvedPosition, error) {
	var rps []*types.ResolvedPosition
	if err := c.get(ctx, "/redemptions/pending?limit="+strconv.Itoa(limit), &rps); err != nil {
		return nil, err
	}
	return rps, nil
}
