package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
)

var repescagemColumns = []string{
	"id", "contact_phone", "operator_id", "messages_count", "attempts",
	"blocked_until", "permanent_block", "last_message_at", "created_at", "updated_at",
}

func TestPostgresRepo_FindRepescagem(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectQuery(`SELECT \* FROM "contact_repescagens" WHERE contact_phone = .* AND operator_id = `).
			WillReturnRows(sqlmock.NewRows(repescagemColumns).
				AddRow(1, "5511988887777", 7, 1, 0, nil, false, nil, time.Now(), time.Now()))

		state, err := repo.FindRepescagem(context.Background(), "+55 11 98888-7777", 7)
		require.NoError(t, err)
		assert.Equal(t, 1, state.MessagesCount)
		assert.Equal(t, "5511988887777", state.ContactPhone)
	})

	t.Run("Missing", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectQuery(`SELECT \* FROM "contact_repescagens"`).
			WillReturnRows(sqlmock.NewRows(repescagemColumns))

		_, err := repo.FindRepescagem(context.Background(), "5511988887777", 7)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestPostgresRepo_MutateRepescagem(t *testing.T) {
	ctx := context.Background()

	t.Run("Changed state is written", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO "contact_repescagens" .* ON CONFLICT \("contact_phone","operator_id"\) DO NOTHING`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(`SELECT \* FROM "contact_repescagens" WHERE contact_phone = .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(repescagemColumns).
				AddRow(4, "5511988887777", 7, 1, 0, nil, false, nil, time.Now(), time.Now()))
		mock.ExpectExec(`UPDATE "contact_repescagens" SET .*"messages_count"=.* WHERE id = `).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		state, err := repo.MutateRepescagem(ctx, "5511988887777", 7, func(s *model.RepescagemState) bool {
			s.MessagesCount++
			return true
		})
		require.NoError(t, err)
		assert.Equal(t, 2, state.MessagesCount)
		assert.Equal(t, int64(4), state.ID)
	})

	t.Run("Unchanged state skips the update", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO "contact_repescagens"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectQuery(`SELECT \* FROM "contact_repescagens" .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(repescagemColumns).
				AddRow(9, "5511988887777", 7, 0, 2, nil, true, nil, time.Now(), time.Now()))
		mock.ExpectCommit()

		state, err := repo.MutateRepescagem(ctx, "5511988887777", 7, func(s *model.RepescagemState) bool {
			return false
		})
		require.NoError(t, err)
		assert.True(t, state.PermanentBlock)
	})

	t.Run("Update failure rolls back", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO "contact_repescagens"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(`SELECT \* FROM "contact_repescagens" .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(repescagemColumns).
				AddRow(4, "5511988887777", 7, 1, 0, nil, false, nil, time.Now(), time.Now()))
		mock.ExpectExec(`UPDATE "contact_repescagens"`).
			WillReturnError(errors.New("syntax error"))
		mock.ExpectRollback()

		_, err := repo.MutateRepescagem(ctx, "5511988887777", 7, func(s *model.RepescagemState) bool {
			s.MessagesCount = 0
			return true
		})
		assert.ErrorIs(t, err, apperrors.ErrDatabase)
	})
}

func TestPostgresRepo_ResetRepescagemForContact(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(`UPDATE "contact_repescagens" SET "blocked_until"=NULL,"messages_count"=.*,"updated_at"=.* WHERE contact_phone = `).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ResetRepescagemForContact(context.Background(), "5511988887777")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPostgresRepo_ClearRepescagem(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(`UPDATE "contact_repescagens" SET "attempts"=.*"permanent_block"=.* WHERE contact_phone = .* AND operator_id = `).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.ClearRepescagem(context.Background(), "5511988887777", 7))
}
