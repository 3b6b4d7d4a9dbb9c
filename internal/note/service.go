// Package note はメモのCRUDドメインロジックを提供する。
// すべての操作は認証済みセッションから解決した所有者IDで絞り込まれる。
package note

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/repository"
)

// 入力値の上限（トリム後のコードポイント数）。
const (
	MaxTitleLength = 120
	MaxBodyLength  = 5000
)

// 操作ラベル。
const (
	OpList   = "list"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// 結果ラベル。
const (
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultNotFound = "not_found"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// OperationRecorder はメモ操作の結果を記録する。
type OperationRecorder interface {
	RecordNoteOperation(op, result string)
}

type noopRecorder struct{}

func (noopRecorder) RecordNoteOperation(string, string) {}

// Service はメモ操作のサービス層。
type Service struct {
	repo     repository.NoteRepository
	recorder OperationRecorder

	// NewID はメモIDの生成元。テストで差し替える。
	NewID func() string
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(repo repository.NoteRepository, recorder OperationRecorder) *Service {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Service{
		repo:     repo,
		recorder: recorder,
		NewID:    uuid.NewString,
	}
}

// List は所有者のメモを更新日時の新しい順で返す。
func (s *Service) List(ctx context.Context, ownerID string) ([]*model.Note, error) {
	notes, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		s.recorder.RecordNoteOperation(OpList, ResultError)
		return nil, fmt.Errorf("メモ一覧の取得に失敗しました: %w", err)
	}
	s.recorder.RecordNoteOperation(OpList, ResultOK)
	return notes, nil
}

// Create はメモを作成する。IDはサーバー側で生成する。
func (s *Service) Create(ctx context.Context, ownerID string, in model.NoteInput) (*model.Note, error) {
	in, err := Validate(in)
	if err != nil {
		s.recorder.RecordNoteOperation(OpCreate, ResultInvalid)
		return nil, err
	}

	n := &model.Note{
		ID:    s.NewID(),
		Title: in.Title,
		Body:  in.Body,
	}
	if err := s.repo.Create(ctx, ownerID, n); err != nil {
		if errors.Is(err, model.ErrNoteConflict) {
			s.recorder.RecordNoteOperation(OpCreate, ResultConflict)
			return nil, model.NewConflictError()
		}
		s.recorder.RecordNoteOperation(OpCreate, ResultError)
		return nil, fmt.Errorf("メモの作成に失敗しました: %w", err)
	}

	s.recorder.RecordNoteOperation(OpCreate, ResultOK)
	return n, nil
}

// Update はメモのタイトルと本文を置き換える。
// 存在しない場合と他ユーザーのメモである場合はどちらもNotFoundを返す。
func (s *Service) Update(ctx context.Context, ownerID, id string, in model.NoteInput) error {
	in, err := Validate(in)
	if err != nil {
		s.recorder.RecordNoteOperation(OpUpdate, ResultInvalid)
		return err
	}

	ok, err := s.repo.Update(ctx, ownerID, id, in.Title, in.Body)
	if err != nil {
		s.recorder.RecordNoteOperation(OpUpdate, ResultError)
		return fmt.Errorf("メモの更新に失敗しました: %w", err)
	}
	if !ok {
		s.recorder.RecordNoteOperation(OpUpdate, ResultNotFound)
		return model.NewNotFoundError()
	}

	s.recorder.RecordNoteOperation(OpUpdate, ResultOK)
	return nil
}

// Delete はメモを削除する。
// 存在しない場合と他ユーザーのメモである場合はどちらもNotFoundを返す。
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	ok, err := s.repo.Delete(ctx, ownerID, id)
	if err != nil {
		s.recorder.RecordNoteOperation(OpDelete, ResultError)
		return fmt.Errorf("メモの削除に失敗しました: %w", err)
	}
	if !ok {
		s.recorder.RecordNoteOperation(OpDelete, ResultNotFound)
		return model.NewNotFoundError()
	}

	s.recorder.RecordNoteOperation(OpDelete, ResultOK)
	return nil
}

// Validate は前後の空白を除去したうえで長さを検証し、正規化した入力値を返す。
func Validate(in model.NoteInput) (model.NoteInput, error) {
	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)

	if n := utf8.RuneCountInString(title); n < 1 || n > MaxTitleLength {
		return model.NoteInput{}, model.NewValidationError()
	}
	if n := utf8.RuneCountInString(body); n < 1 || n > MaxBodyLength {
		return model.NoteInput{}, model.NewValidationError()
	}

	return model.NoteInput{Title: title, Body: body}, nil
}
