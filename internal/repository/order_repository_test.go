package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"xbot/internal/models"
)

// ============================================================
// OrderRepository Tests
// ============================================================

func TestNewOrderRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewOrderRepository(db)
	if repo == nil {
		t.Fatal("NewOrderRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestOrderRepositorySaveOrder(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		order       *models.Order
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "insert new order",
			order: &models.Order{
				ID:             "ord-btc-momentum-1:1",
				ExternalID:     "ex-100",
				IdempotencyKey: "btc-momentum-1:1",
				InstanceID:     "btc-momentum-1",
				Symbol:         "BTCUSDT",
				Side:           models.SideBuy,
				Quantity:       0.01,
				FilledQty:      0.01,
				AvgFillPrice:   50000.0,
				State:          models.OrderStateFilled,
				ReservationID:  "res-1",
				CreatedAt:      now,
				FilledAt:       &now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO orders`).
					WithArgs("ord-btc-momentum-1:1", "ex-100", "btc-momentum-1:1", "btc-momentum-1", "BTCUSDT", models.SideBuy,
						0.01, 0.01, 50000.0, float64(0), models.OrderStateFilled, "res-1", "", now, sqlmock.AnyArg(), &now).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			order: &models.Order{
				ID:         "ord-x:1",
				InstanceID: "x",
				Symbol:     "ETHUSDT",
				Side:       models.SideSell,
				State:      models.OrderStatePending,
				CreatedAt:  now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO orders`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewOrderRepository(db)
			err = repo.SaveOrder(context.Background(), tt.order)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestOrderRepositorySaveFill(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	fill := &models.Fill{
		FillID:    "f-1",
		OrderID:   "ord-btc-momentum-1:1",
		Symbol:    "BTCUSDT",
		Side:      models.SideBuy,
		Quantity:  0.01,
		Price:     50000.0,
		Timestamp: now,
	}

	mock.ExpectExec(`INSERT INTO fills`).
		WithArgs("f-1", "ord-btc-momentum-1:1", "BTCUSDT", models.SideBuy, 0.01, 50000.0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// повтор того же fill_id: ON CONFLICT DO NOTHING, 0 строк
	mock.ExpectExec(`INSERT INTO fills`).
		WithArgs("f-1", "ord-btc-momentum-1:1", "BTCUSDT", models.SideBuy, 0.01, 50000.0, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewOrderRepository(db)
	if err := repo.SaveFill(context.Background(), fill); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := repo.SaveFill(context.Background(), fill); err != nil {
		t.Errorf("duplicate fill should not error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func orderColumns() []string {
	return []string{"id", "external_id", "idempotency_key", "instance_id", "symbol", "side", "quantity", "filled_qty", "avg_fill_price", "requested_price", "state", "reservation_id", "error_message", "created_at", "updated_at", "filled_at"}
}

func TestOrderRepositoryGetByID(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		id          string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			id:   "ord-a:1",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(orderColumns()).
					AddRow("ord-a:1", "ex-1", "a:1", "a", "BTCUSDT", "buy", 0.01, 0.01, 50000.0, 0.0, "FILLED", "res-1", "", now, now, &now)
				mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).
					WithArgs("ord-a:1").
					WillReturnRows(rows)
			},
			expectError: nil,
		},
		{
			name: "not found",
			id:   "ord-missing",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).
					WithArgs("ord-missing").
					WillReturnRows(sqlmock.NewRows(orderColumns()))
			},
			expectError: ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewOrderRepository(db)
			order, err := repo.GetByID(context.Background(), tt.id)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if order.ID != tt.id {
					t.Errorf("expected ID=%s, got %s", tt.id, order.ID)
				}
				if order.State != models.OrderStateFilled {
					t.Errorf("expected state FILLED, got %s", order.State)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestOrderRepositoryUnresolvedOrders(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(orderColumns()).
		AddRow("ord-a:1", "ex-1", "a:1", "a", "BTCUSDT", "buy", 0.01, 0.0, 0.0, 0.0, "UNKNOWN", "res-1", "", now, now, nil).
		AddRow("ord-b:3", "", "b:3", "b", "ETHUSDT", "sell", 0.5, 0.0, 0.0, 0.0, "PENDING", "", "", now, now, nil)

	mock.ExpectQuery(`SELECT .+ FROM orders WHERE state NOT IN`).
		WithArgs(models.OrderStateFilled, models.OrderStateCancelled, models.OrderStateRejected).
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	orders, err := repo.UnresolvedOrders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].State != models.OrderStateUnknown {
		t.Errorf("expected first order UNKNOWN, got %s", orders[0].State)
	}
	if orders[1].ExternalID != "" {
		t.Errorf("expected second order without external_id, got %q", orders[1].ExternalID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOrderRepositoryGetByInstanceID(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(orderColumns()).
		AddRow("ord-a:2", "ex-2", "a:2", "a", "BTCUSDT", "sell", 0.01, 0.01, 51000.0, 0.0, "FILLED", "", "", now, now, &now).
		AddRow("ord-a:1", "ex-1", "a:1", "a", "BTCUSDT", "buy", 0.01, 0.01, 50000.0, 0.0, "FILLED", "", "", now, now, &now)

	mock.ExpectQuery(`SELECT .+ FROM orders WHERE instance_id = \$1`).
		WithArgs("a", 10).
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	orders, err := repo.GetByInstanceID(context.Background(), "a", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != "ord-a:2" {
		t.Errorf("expected newest first, got %s", orders[0].ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOrderRepositoryGetFillsByOrderID(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"fill_id", "order_id", "symbol", "side", "quantity", "price", "timestamp"}).
		AddRow("f-1", "ord-a:1", "BTCUSDT", "buy", 0.005, 50000.0, now).
		AddRow("f-2", "ord-a:1", "BTCUSDT", "buy", 0.005, 50010.0, now.Add(time.Second))

	mock.ExpectQuery(`SELECT .+ FROM fills WHERE order_id = \$1`).
		WithArgs("ord-a:1").
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	fills, err := repo.GetFillsByOrderID(context.Background(), "ord-a:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}
	if fills[1].Price != 50010.0 {
		t.Errorf("expected second fill price 50010, got %f", fills[1].Price)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOrderRepositoryCountByState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders WHERE state = \$1`).
		WithArgs(models.OrderStateUnknown).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	repo := NewOrderRepository(db)
	count, err := repo.CountByState(context.Background(), models.OrderStateUnknown)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count=3, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOrderRepositoryDeleteOlderThan(t *testing.T) {
	cutoff := time.Now().AddDate(0, -1, 0)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM orders WHERE created_at < \$1 AND state IN`).
		WithArgs(cutoff, models.OrderStateFilled, models.OrderStateCancelled, models.OrderStateRejected).
		WillReturnResult(sqlmock.NewResult(0, 42))

	repo := NewOrderRepository(db)
	deleted, err := repo.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 42 {
		t.Errorf("expected 42 deleted, got %d", deleted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
