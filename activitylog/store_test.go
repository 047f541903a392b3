package activitylog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordColumns = []string{"id", "action", "table_name", "record_id", "details", "created_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, ""), mock
}

func TestNew_DefaultTable(t *testing.T) {
	s := New(nil, "")
	assert.Equal(t, DefaultTable, s.Table)
	assert.Equal(t, "custom_log", New(nil, "custom_log").Table)
}

func TestEnsure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `db_activity_log` \\(.*action ENUM\\('INSERT','UPDATE','DELETE'\\).*INDEX idx_created_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Ensure(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsure_Error(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("access denied"))

	err := s.Ensure(context.Background())
	assert.ErrorContains(t, err, "access denied")
}

func TestTruncate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("TRUNCATE TABLE `db_activity_log`").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Truncate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadAfter(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM `db_activity_log` WHERE \\(`id` > \\?\\) ORDER BY `id` ASC LIMIT \\?").
		WithArgs(int64(7), int64(50)).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(8, "INSERT", "users", "1", "id: 1, name: a", now).
			AddRow(9, "UPDATE", "users", nil, nil, now))

	records, err := s.ReadAfter(context.Background(), 7, 50)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, int64(8), records[0].ID)
	assert.Equal(t, "users", records[0].TableName)
	assert.Equal(t, "id: 1, name: a", records[0].Details)
	assert.Equal(t, "unknown", records[1].RecordID)
	assert.Empty(t, records[1].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent_ReturnsAscending(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM `db_activity_log` ORDER BY `id` DESC LIMIT \\?").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(30, "DELETE", "t", "1", nil, now).
			AddRow(29, "UPDATE", "t", "1", "name: a → b", now).
			AddRow(28, "INSERT", "t", "1", "id: 1", now))

	records, err := s.Recent(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int64{28, 29, 30}, []int64{records[0].ID, records[1].ID, records[2].ID})
}

func TestRecent_Empty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(recordColumns))

	records, err := s.Recent(context.Background(), 50)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadAfter_QueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("server has gone away"))

	_, err := s.ReadAfter(context.Background(), 0, 50)
	assert.ErrorContains(t, err, "server has gone away")
}

func TestPrune(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM `db_activity_log` WHERE \\(`created_at` < \\?\\)").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := s.Prune(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
