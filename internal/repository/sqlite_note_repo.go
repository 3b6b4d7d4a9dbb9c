package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/campushub/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteNoteRepo はSQLiteを使用したメモリポジトリ。
type SQLiteNoteRepo struct {
	db *sql.DB

	// Now は作成・更新時刻の取得元。テストで差し替える。
	Now func() time.Time
}

// NewSQLiteNoteRepo はSQLiteNoteRepoを生成する。
func NewSQLiteNoteRepo(db *sql.DB) *SQLiteNoteRepo {
	return &SQLiteNoteRepo{db: db, Now: time.Now}
}

// ListByOwner は所有者のメモをupdated_at降順で返す。
func (r *SQLiteNoteRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Note, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_sub, title, body, created_at, updated_at
		 FROM notes
		 WHERE owner_sub = ?
		 ORDER BY updated_at DESC, created_at DESC, rowid DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]*model.Note, 0)
	for rows.Next() {
		var (
			n                    model.Note
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&n.ID, &n.OwnerSubjectID, &n.Title, &n.Body, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.CreatedAt = fromMillis(createdAt)
		n.UpdatedAt = fromMillis(updatedAt)
		notes = append(notes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}

	return notes, nil
}

// Create はメモを作成する。IDが重複した場合はmodel.ErrNoteConflictを返す。
func (r *SQLiteNoteRepo) Create(ctx context.Context, ownerID string, note *model.Note) error {
	now := fromMillis(toMillis(r.Now()))

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notes (id, owner_sub, title, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		note.ID, ownerID, note.Title, note.Body, toMillis(now), toMillis(now),
	)
	if err != nil {
		if isSQLitePrimaryKeyViolation(err) {
			return model.ErrNoteConflict
		}
		return fmt.Errorf("failed to create note: %w", err)
	}

	note.OwnerSubjectID = ownerID
	note.CreatedAt = now
	note.UpdatedAt = now
	return nil
}

// Update はidとownerIDが一致するメモを更新する。
func (r *SQLiteNoteRepo) Update(ctx context.Context, ownerID, id, title, body string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, body = ?, updated_at = ?
		 WHERE id = ? AND owner_sub = ?`,
		title, body, toMillis(r.Now()), id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update note: %w", err)
	}
	return affected(result)
}

// Delete はidとownerIDが一致するメモを削除する。
func (r *SQLiteNoteRepo) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id = ? AND owner_sub = ?`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete note: %w", err)
	}
	return affected(result)
}

func isSQLitePrimaryKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// compile-time interface check
var _ NoteRepository = (*SQLiteNoteRepo)(nil)
