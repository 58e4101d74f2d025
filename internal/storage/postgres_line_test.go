package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
)

var lineColumns = []string{"id", "phone", "status", "segment_id", "gateway_name", "created_at", "updated_at"}

func TestPostgresRepo_GetAvailableLines(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()
	seg := int64(3)

	mock.ExpectQuery(`SELECT lines\.\* FROM "lines" LEFT JOIN gateway_instances gi .* WHERE lines\.status = .* ORDER BY lines\.phone`).
		WillReturnRows(sqlmock.NewRows(lineColumns).
			AddRow(1, "5511900000001", "active", nil, "", nil, nil).
			AddRow(2, "5511900000002", "active", seg, "", nil, nil))
	mock.ExpectQuery(`SELECT line_operators\.line_id, line_operators\.operator_id, operators\.segment_id FROM "line_operators" LEFT JOIN operators`).
		WillReturnRows(sqlmock.NewRows([]string{"line_id", "operator_id", "segment_id"}).
			AddRow(2, 10, seg).
			AddRow(2, 11, nil))

	lines, err := repo.GetAvailableLines(ctx, nil)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Empty(t, lines[0].Occupants)
	assert.Len(t, lines[1].Occupants, 2)
	assert.True(t, lines[1].HasOccupant(11))
	assert.False(t, lines[1].OnlySegment(seg))
}

func TestPostgresRepo_GetAvailableLines_NoLines(t *testing.T) {
	repo, mock := newTestRepo(t)
	seg := int64(4)

	mock.ExpectQuery(`SELECT lines\.\* FROM "lines" .* lines\.segment_id = `).
		WillReturnRows(sqlmock.NewRows(lineColumns))

	lines, err := repo.GetAvailableLines(context.Background(), &seg)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestPostgresRepo_BindOperator(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "lines" WHERE id = .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(lineColumns).AddRow(1, "5511900000001", "active", nil, "", nil, nil))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "line_operators" WHERE operator_id = `).
			WithArgs(int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "line_operators" WHERE line_id = `).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`INSERT INTO "line_operators"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectCommit()

		assert.NoError(t, repo.BindOperator(ctx, 1, 10))
	})

	t.Run("Line full", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "lines" WHERE id = .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(lineColumns).AddRow(1, "5511900000001", "active", nil, "", nil, nil))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "line_operators" WHERE operator_id = `).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "line_operators" WHERE line_id = `).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		err := repo.BindOperator(ctx, 1, 10)
		assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
		assert.True(t, apperrors.IsContention(err))
	})

	t.Run("Operator already bound", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "lines" WHERE id = .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(lineColumns).AddRow(1, "5511900000001", "active", nil, "", nil, nil))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "line_operators" WHERE operator_id = `).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		err := repo.BindOperator(ctx, 1, 10)
		assert.ErrorIs(t, err, apperrors.ErrAlreadyBound)
	})

	t.Run("Banned line", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "lines" WHERE id = .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(lineColumns).AddRow(1, "5511900000001", "banned", nil, "", nil, nil))
		mock.ExpectRollback()

		err := repo.BindOperator(ctx, 1, 10)
		assert.ErrorIs(t, err, apperrors.ErrLineUnavailable)
	})

	t.Run("Unknown line", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "lines" WHERE id = .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(lineColumns))
		mock.ExpectRollback()

		err := repo.BindOperator(ctx, 99, 10)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestPostgresRepo_MarkBanned(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "lines" WHERE id = .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(lineColumns).AddRow(1, "5511900000001", "active", nil, "", nil, nil))
	mock.ExpectQuery(`SELECT "operator_id" FROM "line_operators" WHERE line_id = `).
		WillReturnRows(sqlmock.NewRows([]string{"operator_id"}).AddRow(10).AddRow(11))
	mock.ExpectExec(`DELETE FROM "line_operators" WHERE line_id = `).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE "lines" SET .*"status"=`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	former, err := repo.MarkBanned(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, former)
}

func TestPostgresRepo_MarkBanned_UpdateFails(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "lines" WHERE id = .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(lineColumns).AddRow(1, "5511900000001", "active", nil, "", nil, nil))
	mock.ExpectQuery(`SELECT "operator_id" FROM "line_operators"`).
		WillReturnRows(sqlmock.NewRows([]string{"operator_id"}).AddRow(10))
	mock.ExpectExec(`DELETE FROM "line_operators"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "lines"`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.MarkBanned(context.Background(), 1)
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
}

func TestPostgresRepo_CurrentLine(t *testing.T) {
	t.Run("Bound", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectQuery(`SELECT lines\.\* FROM "lines" JOIN line_operators ON .* WHERE line_operators\.operator_id = `).
			WillReturnRows(sqlmock.NewRows(lineColumns).AddRow(2, "5511900000002", "active", nil, "", nil, nil))

		line, err := repo.CurrentLine(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), line.ID)
	})

	t.Run("Unbound", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectQuery(`SELECT lines\.\* FROM "lines" JOIN line_operators`).
			WillReturnRows(sqlmock.NewRows(lineColumns))

		_, err := repo.CurrentLine(context.Background(), 10)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestPostgresRepo_PromoteSegment(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(`UPDATE "lines" SET .* WHERE id = .* AND segment_id IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.PromoteSegment(context.Background(), 1, 3))
}

func TestPostgresRepo_SaveLine_NormalizesPhone(t *testing.T) {
	repo, mock := newTestRepo(t)
	line := &model.Line{Phone: "+55 (11) 90000-0001"}
	mock.ExpectQuery(`INSERT INTO "lines" .* ON CONFLICT \("phone"\) DO UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	require.NoError(t, repo.SaveLine(context.Background(), line))
	assert.Equal(t, "5511900000001", line.Phone)
	assert.Equal(t, model.LineActive, line.Status)
}
