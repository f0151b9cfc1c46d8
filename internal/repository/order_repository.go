package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"xbot/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

// OrderRepository - журнал ордеров и исполнений (таблицы orders, fills).
//
// SaveOrder - upsert: менеджер ордеров вызывает его на каждом переходе
// state machine, и повторный вызов с тем же ID обновляет запись.
// SaveFill - append-only с дедупликацией по fill_id: биржа может
// прислать одно исполнение дважды, в журнал оно попадает один раз.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// SaveOrder создает или обновляет запись об ордере
func (r *OrderRepository) SaveOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, external_id, idempotency_key, instance_id, symbol, side, quantity, filled_qty, avg_fill_price, requested_price, state, reservation_id, error_message, created_at, updated_at, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE
		SET external_id = $2, filled_qty = $8, avg_fill_price = $9, state = $11, error_message = $13, updated_at = $15, filled_at = $16`

	order.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(
		ctx,
		query,
		order.ID,
		order.ExternalID,
		order.IdempotencyKey,
		order.InstanceID,
		order.Symbol,
		order.Side,
		order.Quantity,
		order.FilledQty,
		order.AvgFillPrice,
		order.RequestedPrice,
		order.State,
		order.ReservationID,
		order.ErrorMessage,
		order.CreatedAt,
		order.UpdatedAt,
		order.FilledAt,
	)

	return err
}

// SaveFill записывает исполнение. Повторная запись того же fill_id - no-op.
func (r *OrderRepository) SaveFill(ctx context.Context, fill *models.Fill) error {
	query := `
		INSERT INTO fills (fill_id, order_id, symbol, side, quantity, price, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fill_id) DO NOTHING`

	_, err := r.db.ExecContext(
		ctx,
		query,
		fill.FillID,
		fill.OrderID,
		fill.Symbol,
		fill.Side,
		fill.Quantity,
		fill.Price,
		fill.Timestamp,
	)

	return err
}

// GetByID возвращает ордер по внутреннему ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `
		SELECT id, external_id, idempotency_key, instance_id, symbol, side, quantity, filled_qty, avg_fill_price, requested_price, state, reservation_id, error_message, created_at, updated_at, filled_at
		FROM orders
		WHERE id = $1`

	order := &models.Order{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.ExternalID,
		&order.IdempotencyKey,
		&order.InstanceID,
		&order.Symbol,
		&order.Side,
		&order.Quantity,
		&order.FilledQty,
		&order.AvgFillPrice,
		&order.RequestedPrice,
		&order.State,
		&order.ReservationID,
		&order.ErrorMessage,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.FilledAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return order, nil
}

// UnresolvedOrders возвращает ордера в нетерминальных состояниях.
// Используется при старте для сверки с биржей.
func (r *OrderRepository) UnresolvedOrders(ctx context.Context) ([]*models.Order, error) {
	query := `
		SELECT id, external_id, idempotency_key, instance_id, symbol, side, quantity, filled_qty, avg_fill_price, requested_price, state, reservation_id, error_message, created_at, updated_at, filled_at
		FROM orders
		WHERE state NOT IN ($1, $2, $3)
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, models.OrderStateFilled, models.OrderStateCancelled, models.OrderStateRejected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		err := rows.Scan(
			&order.ID,
			&order.ExternalID,
			&order.IdempotencyKey,
			&order.InstanceID,
			&order.Symbol,
			&order.Side,
			&order.Quantity,
			&order.FilledQty,
			&order.AvgFillPrice,
			&order.RequestedPrice,
			&order.State,
			&order.ReservationID,
			&order.ErrorMessage,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.FilledAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetByInstanceID возвращает последние ордера инстанса
func (r *OrderRepository) GetByInstanceID(ctx context.Context, instanceID string, limit int) ([]*models.Order, error) {
	query := `
		SELECT id, external_id, idempotency_key, instance_id, symbol, side, quantity, filled_qty, avg_fill_price, requested_price, state, reservation_id, error_message, created_at, updated_at, filled_at
		FROM orders
		WHERE instance_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		err := rows.Scan(
			&order.ID,
			&order.ExternalID,
			&order.IdempotencyKey,
			&order.InstanceID,
			&order.Symbol,
			&order.Side,
			&order.Quantity,
			&order.FilledQty,
			&order.AvgFillPrice,
			&order.RequestedPrice,
			&order.State,
			&order.ReservationID,
			&order.ErrorMessage,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.FilledAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetFillsByOrderID возвращает исполнения ордера в порядке поступления
func (r *OrderRepository) GetFillsByOrderID(ctx context.Context, orderID string) ([]*models.Fill, error) {
	query := `
		SELECT fill_id, order_id, symbol, side, quantity, price, timestamp
		FROM fills
		WHERE order_id = $1
		ORDER BY timestamp`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []*models.Fill
	for rows.Next() {
		fill := &models.Fill{}
		err := rows.Scan(
			&fill.FillID,
			&fill.OrderID,
			&fill.Symbol,
			&fill.Side,
			&fill.Quantity,
			&fill.Price,
			&fill.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return fills, nil
}

// CountByState возвращает количество ордеров в указанном состоянии
func (r *OrderRepository) CountByState(ctx context.Context, state string) (int, error) {
	query := `SELECT COUNT(*) FROM orders WHERE state = $1`

	var count int
	err := r.db.QueryRowContext(ctx, query, state).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// DeleteOlderThan удаляет терминальные ордера старше указанной даты.
// Нетерминальные записи не трогаем: они нужны для сверки при старте.
func (r *OrderRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	query := `DELETE FROM orders WHERE created_at < $1 AND state IN ($2, $3, $4)`

	result, err := r.db.ExecContext(ctx, query, timestamp, models.OrderStateFilled, models.OrderStateCancelled, models.OrderStateRejected)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
