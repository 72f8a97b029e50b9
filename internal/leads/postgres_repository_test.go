package leads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_GetConversation_Unseen(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithConn(mock, 10)
	mock.ExpectQuery("FROM conversations").
		WithArgs("t-1", "5511999990000").
		WillReturnError(pgx.ErrNoRows)

	view, err := store.GetConversation(context.Background(), "t-1", "5511999990000")
	require.NoError(t, err)
	assert.False(t, view.Exists)
	assert.Empty(t, view.History)
	assert.Equal(t, StatusNew, view.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConversation_WithHistory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithConn(mock, 10)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM conversations").
		WithArgs("t-1", "55").
		WillReturnRows(pgxmock.NewRows([]string{"id", "display_name", "lead_data", "status", "message_count", "version"}).
			AddRow("c-1", "Ana", []byte(`{"company":"bakery","email":"ana@x.test"}`), "in_progress", 2, int64(1)))
	mock.ExpectQuery("FROM messages").
		WithArgs("c-1", 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "role", "content", "tokens_used", "metadata", "created_at"}).
			AddRow("m-1", "user", "Hi", 0, []byte(`{}`), now).
			AddRow("m-2", "assistant", "Hello!", 42, []byte(`{"parse":"ok"}`), now.Add(time.Millisecond)))

	view, err := store.GetConversation(context.Background(), "t-1", "55")
	require.NoError(t, err)
	assert.True(t, view.Exists)
	assert.Equal(t, "c-1", view.ConversationID)
	assert.Equal(t, "bakery", view.LeadData.Company)
	assert.Equal(t, "ana@x.test", view.LeadData.Extras["email"])
	assert.Equal(t, StatusInProgress, view.Status)
	require.Len(t, view.History, 2)
	assert.Equal(t, 42, view.History[1].TokensUsed)
	assert.Equal(t, "ok", view.History[1].Metadata["parse"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendTurn_CreatesConversation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithConn(mock, 10)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), "t-1", "55", "Ana", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id, version FROM conversations").
		WithArgs("t-1", "55").
		WillReturnRows(pgxmock.NewRows([]string{"id", "version"}).AddRow("c-1", int64(0)))
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("UPDATE conversations").
		WithArgs("c-1", "Ana", pgxmock.AnyArg(), "in_progress", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"message_count", "version"}).AddRow(2, int64(1)))
	mock.ExpectCommit()

	res, err := store.AppendTurn(context.Background(), Turn{
		TenantID:      "t-1",
		Phone:         "55",
		DisplayName:   "Ana",
		UserText:      "Hi, I run a bakery",
		AssistantText: "Great! What is your name?",
		LeadData:      LeadData{Company: "bakery"},
		Status:        StatusInProgress,
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "c-1", res.ConversationID)
	assert.Equal(t, 2, res.MessageCount)
	assert.Equal(t, int64(1), res.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendTurn_VersionConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithConn(mock, 10)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversations").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT id, version FROM conversations").
		WillReturnRows(pgxmock.NewRows([]string{"id", "version"}).AddRow("c-1", int64(5)))
	mock.ExpectRollback()

	_, err = store.AppendTurn(context.Background(), Turn{
		TenantID:        "t-1",
		Phone:           "55",
		ExpectedVersion: 4,
		Status:          StatusInProgress,
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendTurn_InsertFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithConn(mock, 10)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversations").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT id, version FROM conversations").
		WillReturnRows(pgxmock.NewRows([]string{"id", "version"}).AddRow("c-1", int64(1)))
	mock.ExpectExec("INSERT INTO messages").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = store.AppendTurn(context.Background(), Turn{
		TenantID:        "t-1",
		Phone:           "55",
		ExpectedVersion: 1,
		Status:          StatusInProgress,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert user message")
	assert.NotErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithConn(mock, 10)
	now := time.Now().UTC()

	mock.ExpectQuery("WITH prev AS").
		WithArgs("t-1", "55", "scheduled").
		WillReturnRows(pgxmock.NewRows([]string{"id", "display_name", "lead_data", "message_count", "version", "created_at", "last_message_at", "status"}).
			AddRow("c-1", "Ana", []byte(`{"name":"Ana"}`), 8, int64(5), now, now, "qualified"))

	conv, previous, err := store.SetStatus(context.Background(), "t-1", "55", StatusScheduled)
	require.NoError(t, err)
	assert.Equal(t, StatusQualified, previous)
	assert.Equal(t, StatusScheduled, conv.Status)
	assert.Equal(t, "Ana", conv.LeadData.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStatus_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithConn(mock, 10)
	mock.ExpectQuery("WITH prev AS").WillReturnError(pgx.ErrNoRows)

	_, _, err = store.SetStatus(context.Background(), "t-1", "55", StatusScheduled)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}
