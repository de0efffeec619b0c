package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/acm/internal/model"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestNewPostgresProfileRepo_Initializes(t *testing.T) {
	repo := NewPostgresProfileRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestPostgresProfileRepo_FindByID(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, full_name, email FROM profiles WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email"}).
			AddRow(id.String(), "Alice", "alice@example.com"))

	repo := NewPostgresProfileRepo(db)
	p, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "Alice", p.FullName)
	assert.Equal(t, "alice@example.com", p.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProfileRepo_FindByID_NotFoundReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, full_name, email FROM profiles").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	repo := NewPostgresProfileRepo(db)
	p, err := repo.FindByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProfileRepo_FindByID_QueryError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT id, full_name, email FROM profiles").
		WillReturnError(errors.New("connection reset by peer"))

	repo := NewPostgresProfileRepo(db)
	_, err := repo.FindByID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to find profile by ID")
}

func TestPostgresProfileRepo_Create(t *testing.T) {
	db, mock := newMockDB(t)
	profile := &model.Profile{ID: uuid.New(), FullName: "Alice", Email: "alice@example.com"}

	mock.ExpectExec("INSERT INTO profiles \\(id, full_name, email\\) VALUES \\(\\$1, \\$2, \\$3\\)").
		WithArgs(profile.ID, profile.FullName, profile.Email).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewPostgresProfileRepo(db)
	require.NoError(t, repo.Create(context.Background(), profile))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProfileRepo_Create_DuplicateKey(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO profiles").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "profiles_pkey"`))

	repo := NewPostgresProfileRepo(db)
	err := repo.Create(context.Background(), &model.Profile{ID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, model.AuthErrDuplicateRegistration, model.ClassifyAuthError(err))
}
