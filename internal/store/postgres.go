package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omenx/position-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All amounts are stored as NUMERIC for exact integer precision; uint256
// values do not fit in BIGINT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetPosition(ctx context.Context, user, market common.Address, outcomeIndex uint) (*model.MarketPosition, error) {
	var qb, qs, nq, vb, vs, nv string
	var updatedAt time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT quantity_bought::TEXT, quantity_sold::TEXT, net_quantity::TEXT,
		        value_bought::TEXT, value_sold::TEXT, net_value::TEXT,
		        updated_at
		 FROM positions
		 WHERE user_address = $1 AND market_address = $2 AND outcome_index = $3`,
		addrString(user), addrString(market), outcomeIndex).
		Scan(&qb, &qs, &nq, &vb, &vs, &nv, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NewMarketPosition(user, market, outcomeIndex), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", model.PositionKey(user, market, outcomeIndex), err)
	}

	p := model.NewMarketPosition(user, market, outcomeIndex)
	p.UpdatedAt = updatedAt
	for _, f := range []struct {
		dst *big.Int
		src string
	}{
		{p.QuantityBought, qb}, {p.QuantitySold, qs}, {p.NetQuantity, nq},
		{p.ValueBought, vb}, {p.ValueSold, vs}, {p.NetValue, nv},
	} {
		if _, ok := f.dst.SetString(f.src, 10); !ok {
			return nil, fmt.Errorf("get position: bad numeric %q", f.src)
		}
	}
	return p, nil
}

// SavePositions upserts all positions inside one transaction, so a
// multi-outcome event either lands fully or not at all.
func (s *PostgresStore) SavePositions(ctx context.Context, positions []*model.MarketPosition) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save positions: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range positions {
		_, err := tx.Exec(ctx,
			`INSERT INTO positions (user_address, market_address, outcome_index,
			        quantity_bought, quantity_sold, net_quantity,
			        value_bought, value_sold, net_value, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
			         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)
			 ON CONFLICT (user_address, market_address, outcome_index) DO UPDATE SET
			     quantity_bought = EXCLUDED.quantity_bought,
			     quantity_sold   = EXCLUDED.quantity_sold,
			     net_quantity    = EXCLUDED.net_quantity,
			     value_bought    = EXCLUDED.value_bought,
			     value_sold      = EXCLUDED.value_sold,
			     net_value       = EXCLUDED.net_value,
			     updated_at      = EXCLUDED.updated_at`,
			addrString(p.User), addrString(p.Market), p.OutcomeIndex,
			p.QuantityBought.String(), p.QuantitySold.String(), p.NetQuantity.String(),
			p.ValueBought.String(), p.ValueSold.String(), p.NetValue.String(),
			p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("save position %s: %w", p.Key(), err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, user common.Address) ([]model.MarketPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_address, market_address, outcome_index,
		        quantity_bought::TEXT, quantity_sold::TEXT, net_quantity::TEXT,
		        value_bought::TEXT, value_sold::TEXT, net_value::TEXT,
		        updated_at
		 FROM positions WHERE user_address = $1
		 ORDER BY market_address, outcome_index`, addrString(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListPositionsByMarket(ctx context.Context, market common.Address) ([]model.MarketPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_address, market_address, outcome_index,
		        quantity_bought::TEXT, quantity_sold::TEXT, net_quantity::TEXT,
		        value_bought::TEXT, value_sold::TEXT, net_value::TEXT,
		        updated_at
		 FROM positions WHERE market_address = $1
		 ORDER BY user_address, outcome_index`, addrString(market))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) SaveMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (address, condition_id, outcome_slot_count, collateral_token, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (address) DO UPDATE SET
		     condition_id       = EXCLUDED.condition_id,
		     outcome_slot_count = EXCLUDED.outcome_slot_count,
		     collateral_token   = EXCLUDED.collateral_token`,
		addrString(m.Address), m.ConditionID.Hex(), m.OutcomeSlotCount,
		addrString(m.CollateralToken), m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, address common.Address) (*model.Market, error) {
	return s.queryMarket(ctx,
		`SELECT address, condition_id, outcome_slot_count, collateral_token, created_at
		 FROM markets WHERE address = $1`, addrString(address))
}

func (s *PostgresStore) GetMarketByCondition(ctx context.Context, conditionID common.Hash) (*model.Market, error) {
	return s.queryMarket(ctx,
		`SELECT address, condition_id, outcome_slot_count, collateral_token, created_at
		 FROM markets WHERE condition_id = $1`, conditionID.Hex())
}

func (s *PostgresStore) queryMarket(ctx context.Context, query string, arg any) (*model.Market, error) {
	var m model.Market
	var address, conditionID, collateral string

	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&address, &conditionID, &m.OutcomeSlotCount, &collateral, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %v: %w", arg, err)
	}

	m.Address = common.HexToAddress(address)
	m.ConditionID = common.HexToHash(conditionID)
	m.CollateralToken = common.HexToAddress(collateral)
	return &m, nil
}

func (s *PostgresStore) SaveCondition(ctx context.Context, c *model.Condition) error {
	var numerators []string
	for _, n := range c.PayoutNumerators {
		numerators = append(numerators, n.String())
	}
	var denominator *string
	if c.PayoutDenominator != nil {
		d := c.PayoutDenominator.String()
		denominator = &d
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conditions (id, oracle, outcome_slot_count, payout_numerators, payout_denominator, resolved_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     oracle             = EXCLUDED.oracle,
		     outcome_slot_count = EXCLUDED.outcome_slot_count,
		     payout_numerators  = EXCLUDED.payout_numerators,
		     payout_denominator = EXCLUDED.payout_denominator,
		     resolved_at        = EXCLUDED.resolved_at`,
		c.ID.Hex(), addrString(c.Oracle), c.OutcomeSlotCount,
		numerators, denominator, c.ResolvedAt,
	)
	return err
}

func (s *PostgresStore) GetCondition(ctx context.Context, id common.Hash) (*model.Condition, error) {
	var c model.Condition
	var condID, oracle string
	var numerators []string
	var denominator *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, oracle, outcome_slot_count, payout_numerators, payout_denominator::TEXT, resolved_at
		 FROM conditions WHERE id = $1`, id.Hex()).
		Scan(&condID, &oracle, &c.OutcomeSlotCount, &numerators, &denominator, &c.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("condition %s: %w", id.Hex(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get condition %s: %w", id.Hex(), err)
	}

	c.ID = common.HexToHash(condID)
	c.Oracle = common.HexToAddress(oracle)
	for _, n := range numerators {
		v, ok := new(big.Int).SetString(n, 10)
		if !ok {
			return nil, fmt.Errorf("get condition: bad numerator %q", n)
		}
		c.PayoutNumerators = append(c.PayoutNumerators, v)
	}
	if denominator != nil {
		v, ok := new(big.Int).SetString(*denominator, 10)
		if !ok {
			return nil, fmt.Errorf("get condition: bad denominator %q", *denominator)
		}
		c.PayoutDenominator = v
	}
	return &c, nil
}

func (s *PostgresStore) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (hash, user_address, market_address, outcome_index,
		        trade_type, outcome_tokens_amount, trade_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)
		 ON CONFLICT (hash) DO NOTHING`,
		txn.Hash.Hex(), addrString(txn.User), addrString(txn.Market), txn.OutcomeIndex,
		txn.Type, txn.OutcomeTokensAmount.String(), txn.TradeAmount.String(),
		txn.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetTransaction(ctx context.Context, hash common.Hash) (*model.Transaction, error) {
	var txn model.Transaction
	var txHash, user, market, tokens, amount string

	err := s.pool.QueryRow(ctx,
		`SELECT hash, user_address, market_address, outcome_index, trade_type,
		        outcome_tokens_amount::TEXT, trade_amount::TEXT, created_at
		 FROM transactions WHERE hash = $1`, hash.Hex()).
		Scan(&txHash, &user, &market, &txn.OutcomeIndex, &txn.Type,
			&tokens, &amount, &txn.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", hash.Hex(), err)
	}

	txn.Hash = common.HexToHash(txHash)
	txn.User = common.HexToAddress(user)
	txn.Market = common.HexToAddress(market)
	txn.OutcomeTokensAmount, _ = new(big.Int).SetString(tokens, 10)
	txn.TradeAmount, _ = new(big.Int).SetString(amount, 10)
	return &txn, nil
}

// scanPositions reads pgx rows into MarketPosition slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPositions(rows pgxRows) ([]model.MarketPosition, error) {
	var positions []model.MarketPosition
	for rows.Next() {
		var user, market string
		var outcomeIndex uint
		var qb, qs, nq, vb, vs, nv string
		var updatedAt time.Time

		if err := rows.Scan(&user, &market, &outcomeIndex,
			&qb, &qs, &nq, &vb, &vs, &nv, &updatedAt); err != nil {
			return nil, err
		}

		p := model.NewMarketPosition(
			common.HexToAddress(user), common.HexToAddress(market), outcomeIndex)
		p.UpdatedAt = updatedAt
		p.QuantityBought.SetString(qb, 10)
		p.QuantitySold.SetString(qs, 10)
		p.NetQuantity.SetString(nq, 10)
		p.ValueBought.SetString(vb, 10)
		p.ValueSold.SetString(vs, 10)
		p.NetValue.SetString(nv, 10)

		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func addrString(a common.Address) string {
	return strings.ToLower(a.Hex())
}
