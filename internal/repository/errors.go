package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// 一意制約違反など（同じキーが既にある）
	ErrConflict = errors.New("conflict")

	// 条件付き更新が0件（在庫不足・上限到達など）
	ErrConditionFailed = errors.New("condition failed")
)
