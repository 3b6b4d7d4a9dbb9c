package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/campushub/internal/model"
	"github.com/lib/pq"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

// PostgresNoteRepo はPostgreSQLを使用したメモリポジトリ。
type PostgresNoteRepo struct {
	db *sql.DB

	// Now は作成・更新時刻の取得元。テストで差し替える。
	Now func() time.Time
}

// NewPostgresNoteRepo はPostgresNoteRepoを生成する。
func NewPostgresNoteRepo(db *sql.DB) *PostgresNoteRepo {
	return &PostgresNoteRepo{db: db, Now: time.Now}
}

// ListByOwner は所有者のメモをupdated_at降順で返す。
func (r *PostgresNoteRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Note, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_sub, title, body, created_at, updated_at
		 FROM notes
		 WHERE owner_sub = $1
		 ORDER BY updated_at DESC, created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]*model.Note, 0)
	for rows.Next() {
		n := &model.Note{}
		if err := rows.Scan(&n.ID, &n.OwnerSubjectID, &n.Title, &n.Body, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}

	return notes, nil
}

// Create はメモを作成する。IDが重複した場合はmodel.ErrNoteConflictを返す。
func (r *PostgresNoteRepo) Create(ctx context.Context, ownerID string, note *model.Note) error {
	// TIMESTAMPTZの精度に合わせて丸め、読み戻した値と一致させる
	now := r.Now().UTC().Truncate(time.Microsecond)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notes (id, owner_sub, title, body, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		note.ID, ownerID, note.Title, note.Body, now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
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
func (r *PostgresNoteRepo) Update(ctx context.Context, ownerID, id, title, body string) (bool, error) {
	now := r.Now().UTC().Truncate(time.Microsecond)

	result, err := r.db.ExecContext(ctx,
		`UPDATE notes SET title = $1, body = $2, updated_at = $3
		 WHERE id = $4 AND owner_sub = $5`,
		title, body, now, id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update note: %w", err)
	}
	return affected(result)
}

// Delete はidとownerIDが一致するメモを削除する。
func (r *PostgresNoteRepo) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id = $1 AND owner_sub = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete note: %w", err)
	}
	return affected(result)
}

// affected は1行以上が更新・削除されたかを返す。
func affected(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ NoteRepository = (*PostgresNoteRepo)(nil)
