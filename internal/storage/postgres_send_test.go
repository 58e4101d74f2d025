package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
)

func TestPostgresRepo_LastSendAt(t *testing.T) {
	t.Run("Latest send", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		sentAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT \* FROM "send_histories" WHERE contact_phone = .* ORDER BY sent_at DESC`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "contact_phone", "line_id", "campaign_id", "sent_at"}).
				AddRow(1, "5511977776666", 2, nil, sentAt))

		last, err := repo.LastSendAt(context.Background(), "5511977776666")
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.Equal(sentAt))
	})

	t.Run("Never sent", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectQuery(`SELECT \* FROM "send_histories"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		last, err := repo.LastSendAt(context.Background(), "5511977776666")
		require.NoError(t, err)
		assert.Nil(t, last)
	})
}

func TestPostgresRepo_CountOutboundSince(t *testing.T) {
	repo, mock := newTestRepo(t)
	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "outbound_messages" WHERE line_id = .* AND created_at >= .* AND status IN`).
		WithArgs(int64(5), AnyTime{}, model.OutboundPending, model.OutboundSent).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := repo.CountOutboundSince(context.Background(), 5, since)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestPostgresRepo_SaveOutboundMessage(t *testing.T) {
	repo, mock := newTestRepo(t)
	msg := &model.OutboundMessage{LineID: 5, OperatorID: 7, ContactPhone: "+55 11 97777-6666", Text: "oi"}
	mock.ExpectQuery(`INSERT INTO "outbound_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	require.NoError(t, repo.SaveOutboundMessage(context.Background(), msg))
	assert.Equal(t, int64(42), msg.ID)
	assert.Equal(t, model.OutboundPending, msg.Status)
	assert.Equal(t, "5511977776666", msg.ContactPhone)
}

func TestPostgresRepo_UpdateOutboundStatus(t *testing.T) {
	t.Run("Updated", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectExec(`UPDATE "outbound_messages" SET .*"status"=.* WHERE id = `).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateOutboundStatus(context.Background(), 42, model.OutboundSent, 1, ""))
	})

	t.Run("Unknown id", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectExec(`UPDATE "outbound_messages"`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateOutboundStatus(context.Background(), 42, model.OutboundFailed, 3, "timeout")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
