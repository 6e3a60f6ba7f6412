package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_AppendRunTransaction(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr string
	}{
		{
			name: "commits run and metrics together",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO runs").
					WithArgs("run_1", sqlmock.AnyArg(), "ragbench", "", "TFIDF", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO metrics").
					WithArgs("run_1", "MRR@10", 0.5, nil).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO metrics").
					WithArgs("run_1", "Recall@5", 0.25, nil).
					WillReturnResult(sqlmock.NewResult(2, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "rolls back when a metric insert fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO metrics").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO metrics").WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			wantErr: "failed to insert metric Recall@5",
		},
		{
			name: "maps primary key violation to duplicate",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO runs").
					WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: runs.run_id"))
				mock.ExpectRollback()
			},
			wantErr: "run already exists",
		},
		{
			name: "begin failure",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
			},
			wantErr: "failed to begin transaction",
		},
		{
			name: "commit failure",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO metrics").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO metrics").WillReturnResult(sqlmock.NewResult(2, 1))
				mock.ExpectCommit().WillReturnError(errors.New("io error"))
			},
			wantErr: "failed to commit run",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.setup(mock)
			store := newSQLStore(db)

			err = store.AppendRun(context.Background(), makeRun("run_1", 0, "TFIDF", 0.5))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLiteStore_RecentByMetricQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT r.run_id").
		WithArgs("MRR@10", 50).
		WillReturnError(errors.New("no such table: runs"))

	_, err = newSQLStore(db).RecentByMetric(context.Background(), "MRR@10", 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query metric history")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_RecentByMetricScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"run_id", "created_at", "config_json", "metric_value"}).
		AddRow("run_2", formatTime(created), `{"retriever":"TFIDF"}`, 0.81)
	mock.ExpectQuery("SELECT r.run_id").WithArgs("MRR@10", 10).WillReturnRows(rows)

	got, err := newSQLStore(db).RecentByMetric(context.Background(), "MRR@10", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run_2", got[0].RunID)
	assert.True(t, got[0].CreatedAt.Equal(created))
	assert.Equal(t, 0.81, got[0].Value)
}
