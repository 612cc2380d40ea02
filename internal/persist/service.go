package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"newstrade/internal/bus"
	"newstrade/internal/events"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS news_events (
    event_id      TEXT PRIMARY KEY,
    source        TEXT NOT NULL,
    published_at  TIMESTAMPTZ NOT NULL,
    title         TEXT NOT NULL,
    content       TEXT NOT NULL DEFAULT '',
    lang          TEXT NOT NULL DEFAULT 'en',
    url           TEXT NOT NULL DEFAULT '',
    dedup_hash    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS order_intents (
    intent_id         TEXT PRIMARY KEY,
    event_id          TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    market            TEXT NOT NULL,
    side              INT NOT NULL,
    qty_usd           DOUBLE PRECISION NOT NULL,
    max_slippage_bps  INT NOT NULL,
    reason            TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS risk_decisions (
    intent_id       TEXT PRIMARY KEY,
    allow           BOOLEAN NOT NULL,
    reason_code     TEXT NOT NULL DEFAULT '',
    capped_qty_usd  DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS execution_reports (
    order_id    TEXT PRIMARY KEY,
    intent_id   TEXT NOT NULL DEFAULT '',
    symbol      TEXT NOT NULL,
    market      TEXT NOT NULL,
    side        INT NOT NULL,
    filled_qty  DOUBLE PRECISION NOT NULL,
    avg_price   DOUBLE PRECISION NOT NULL,
    fee         DOUBLE PRECISION NOT NULL,
    status      TEXT NOT NULL,
    ts          TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS execution_report_events (
    order_id    TEXT NOT NULL,
    intent_id   TEXT NOT NULL DEFAULT '',
    symbol      TEXT NOT NULL,
    market      TEXT NOT NULL,
    side        INT NOT NULL,
    status      TEXT NOT NULL,
    filled_qty  DOUBLE PRECISION NOT NULL,
    avg_price   DOUBLE PRECISION NOT NULL,
    fee         DOUBLE PRECISION NOT NULL,
    ts          TIMESTAMPTZ NOT NULL,
    payload     JSONB NOT NULL,
    PRIMARY KEY (order_id, status, filled_qty, avg_price, fee, ts)
);
CREATE TABLE IF NOT EXISTS pnl_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    ts          TIMESTAMPTZ NOT NULL,
    account     TEXT NOT NULL,
    unrealized  DOUBLE PRECISION NOT NULL,
    realized    DOUBLE PRECISION NOT NULL,
    exposure    DOUBLE PRECISION NOT NULL,
    drawdown    DOUBLE PRECISION NOT NULL
);
`

// Service records the audit trail of the pipeline in Postgres. All
// writes are idempotent so replayed records are harmless.
type Service struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Service, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 5
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Service{pool: pool}, nil
}

func (s *Service) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Service) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Service) HandleNews(ctx context.Context, payload []byte) ([]bus.Output, error) {
	event, err := events.DecodeNews(payload)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO news_events(event_id, source, published_at, title, content, lang, url, dedup_hash)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT(event_id) DO UPDATE SET
		  source = EXCLUDED.source,
		  published_at = EXCLUDED.published_at,
		  title = EXCLUDED.title,
		  content = EXCLUDED.content,
		  lang = EXCLUDED.lang,
		  url = EXCLUDED.url,
		  dedup_hash = EXCLUDED.dedup_hash`,
		event.EventID, event.Source, event.PublishedAt, event.Title,
		event.Content, event.Lang, event.URL, event.DedupHash)
	if err != nil {
		return nil, fmt.Errorf("upsert news %s: %w", event.EventID, err)
	}
	return nil, nil
}

func (s *Service) HandleIntent(ctx context.Context, payload []byte) ([]bus.Output, error) {
	intent, err := events.DecodeIntent(payload)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO order_intents(intent_id, event_id, symbol, market, side, qty_usd, max_slippage_bps, reason)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT(intent_id) DO UPDATE SET
		  event_id = EXCLUDED.event_id,
		  symbol = EXCLUDED.symbol,
		  market = EXCLUDED.market,
		  side = EXCLUDED.side,
		  qty_usd = EXCLUDED.qty_usd,
		  max_slippage_bps = EXCLUDED.max_slippage_bps,
		  reason = EXCLUDED.reason`,
		intent.IntentID, intent.EventID, intent.Symbol, intent.Market,
		intent.Side, intent.QtyUSD, intent.MaxSlippageBps, intent.Reason)
	if err != nil {
		return nil, fmt.Errorf("upsert intent %s: %w", intent.IntentID, err)
	}
	return nil, nil
}

func (s *Service) HandleRiskDecision(ctx context.Context, payload []byte) ([]bus.Output, error) {
	decision, err := events.DecodeRiskDecision(payload)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO risk_decisions(intent_id, allow, reason_code, capped_qty_usd)
		VALUES($1,$2,$3,$4)
		ON CONFLICT(intent_id) DO UPDATE SET
		  allow = EXCLUDED.allow,
		  reason_code = EXCLUDED.reason_code,
		  capped_qty_usd = EXCLUDED.capped_qty_usd`,
		decision.IntentID, decision.Allow, decision.ReasonCode, decision.CappedQtyUSD)
	if err != nil {
		return nil, fmt.Errorf("upsert risk decision %s: %w", decision.IntentID, err)
	}
	return nil, nil
}

// HandleExecution appends the raw report to the audit table, then folds
// it into the per-order row via MergeExecutionState.
func (s *Service) HandleExecution(ctx context.Context, payload []byte) ([]bus.Output, error) {
	report, err := events.DecodeExecutionReport(payload)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_report_events(
		  order_id, intent_id, symbol, market, side, status, filled_qty, avg_price, fee, ts, payload)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb)
		ON CONFLICT(order_id, status, filled_qty, avg_price, fee, ts) DO NOTHING`,
		report.OrderID, report.IntentID, report.Symbol, report.Market, report.Side,
		report.Status, report.FilledQty, report.AvgPrice, report.Fee, report.TS,
		string(payload))
	if err != nil {
		return nil, fmt.Errorf("audit report %s: %w", report.OrderID, err)
	}

	var current *ExecutionState
	row := s.pool.QueryRow(ctx, `
		SELECT order_id, intent_id, symbol, market, side, status, filled_qty, avg_price, fee, ts
		FROM execution_reports
		WHERE order_id = $1`, report.OrderID)
	var st ExecutionState
	err = row.Scan(&st.OrderID, &st.IntentID, &st.Symbol, &st.Market, &st.Side,
		&st.Status, &st.FilledQty, &st.AvgPrice, &st.Fee, &st.TS)
	switch {
	case err == nil:
		current = &st
	case err == pgx.ErrNoRows:
		current = nil
	default:
		return nil, fmt.Errorf("load execution state %s: %w", report.OrderID, err)
	}

	merged := MergeExecutionState(current, report)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_reports(order_id, intent_id, symbol, market, side, filled_qty, avg_price, fee, status, ts)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT(order_id) DO UPDATE SET
		  intent_id = EXCLUDED.intent_id,
		  symbol = EXCLUDED.symbol,
		  market = EXCLUDED.market,
		  side = EXCLUDED.side,
		  filled_qty = EXCLUDED.filled_qty,
		  avg_price = EXCLUDED.avg_price,
		  fee = EXCLUDED.fee,
		  status = EXCLUDED.status,
		  ts = EXCLUDED.ts`,
		merged.OrderID, merged.IntentID, merged.Symbol, merged.Market, merged.Side,
		merged.FilledQty, merged.AvgPrice, merged.Fee, merged.Status, merged.TS)
	if err != nil {
		return nil, fmt.Errorf("upsert execution state %s: %w", merged.OrderID, err)
	}
	return nil, nil
}

func (s *Service) HandlePnL(ctx context.Context, payload []byte) ([]bus.Output, error) {
	snapshot, err := events.DecodePnL(payload)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pnl_snapshots(ts, account, unrealized, realized, exposure, drawdown)
		VALUES($1,$2,$3,$4,$5,$6)`,
		snapshot.TS, snapshot.Account, snapshot.Unrealized,
		snapshot.Realized, snapshot.Exposure, snapshot.Drawdown)
	if err != nil {
		return nil, fmt.Errorf("insert pnl snapshot: %w", err)
	}
	return nil, nil
}
