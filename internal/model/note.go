package model

import "time"

// Note はユーザーが所有する短いテキストメモを表す。
// OwnerSubjectIDは作成後に変更されない。
type Note struct {
	ID             string
	OwnerSubjectID string
	Title          string
	Body           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NoteInput はメモの作成・更新リクエストの入力値。
type NoteInput struct {
	Title string
	Body  string
}
