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
// NotificationRepository Tests
// ============================================================

func TestNotificationRepositoryCreate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name         string
		notification *models.Notification
		mockSetup    func(mock sqlmock.Sqlmock)
		expectError  bool
	}{
		{
			name: "success with meta",
			notification: &models.Notification{
				Timestamp:  now,
				Type:       models.NotificationOrderFilled,
				Severity:   models.SeverityInfo,
				InstanceID: "btc-momentum-1",
				Symbol:     "BTCUSDT",
				Message:    "order filled",
				Meta:       map[string]interface{}{"order_id": "ord-a:1"},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
					WithArgs(now, models.NotificationOrderFilled, models.SeverityInfo, "btc-momentum-1", "BTCUSDT", "order filled", []byte(`{"order_id":"ord-a:1"}`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
			},
			expectError: false,
		},
		{
			name: "success without meta",
			notification: &models.Notification{
				Timestamp: now,
				Type:      models.NotificationDrawdownBreach,
				Severity:  models.SeverityError,
				Message:   "drawdown limit breached",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
					WithArgs(now, models.NotificationDrawdownBreach, models.SeverityError, "", "", "drawdown limit breached", []byte(nil)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
			},
			expectError: false,
		},
		{
			name: "database error",
			notification: &models.Notification{
				Timestamp: now,
				Type:      models.NotificationInstanceError,
				Severity:  models.SeverityError,
				Message:   "boom",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
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

			repo := NewNotificationRepository(db)
			err = repo.Create(tt.notification)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.notification.ID == 0 {
					t.Error("expected ID to be set")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func notificationColumns() []string {
	return []string{"id", "timestamp", "type", "severity", "instance_id", "symbol", "message", "meta"}
}

func TestNotificationRepositoryGetRecent(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(notificationColumns()).
		AddRow(2, now, models.NotificationStopLoss, models.SeverityWarn, "btc-momentum-1", "BTCUSDT", "stop loss hit", []byte(`{"price":48000}`)).
		AddRow(1, now.Add(-time.Minute), models.NotificationOrderFilled, models.SeverityInfo, "btc-momentum-1", "BTCUSDT", "order filled", nil)

	mock.ExpectQuery(`SELECT .+ FROM notifications ORDER BY timestamp DESC`).
		WithArgs(50).
		WillReturnRows(rows)

	repo := NewNotificationRepository(db)
	items, err := repo.GetRecent(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(items))
	}
	if items[0].Type != models.NotificationStopLoss {
		t.Errorf("expected newest first, got %s", items[0].Type)
	}
	if items[0].Meta["price"] != float64(48000) {
		t.Errorf("meta not decoded: %v", items[0].Meta)
	}
	if items[1].Meta != nil {
		t.Errorf("expected nil meta, got %v", items[1].Meta)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNotificationRepositoryGetByType(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(notificationColumns()).
		AddRow(5, now, models.NotificationRecovery, models.SeverityWarn, "eth-grid-1", "ETHUSDT", "order still open after restart", nil)

	mock.ExpectQuery(`SELECT .+ FROM notifications WHERE type = \$1`).
		WithArgs(models.NotificationRecovery, 10).
		WillReturnRows(rows)

	repo := NewNotificationRepository(db)
	items, err := repo.GetByType(context.Background(), models.NotificationRecovery, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(items))
	}
	if items[0].InstanceID != "eth-grid-1" {
		t.Errorf("expected instance eth-grid-1, got %s", items[0].InstanceID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNotificationRepositoryDeleteOlderThan(t *testing.T) {
	cutoff := time.Now().AddDate(0, 0, -7)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM notifications WHERE timestamp < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	repo := NewNotificationRepository(db)
	deleted, err := repo.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 17 {
		t.Errorf("expected 17 deleted, got %d", deleted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
