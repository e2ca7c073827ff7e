package storage

import (
	"context"
	"errors"
)

// ErrNotFound 鍵不存在
var ErrNotFound = errors.New("storage: key not found")

// Store 持久化鍵值儲存介面
// 引擎只依賴 get/put/list 語義，不綁定特定儲存技術
type Store interface {
	// Get 取得鍵值，不存在時回傳 ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Put 寫入鍵值
	Put(ctx context.Context, key, value string) error

	// List 列出符合前綴的所有鍵
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete 刪除鍵
	Delete(ctx context.Context, key string) error

	// Close 關閉儲存連線
	Close() error
}
