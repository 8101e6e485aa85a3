package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/storage/memory"
	"github.com/feichai0017/photomaster/pkg/storage/minio"
	"github.com/feichai0017/photomaster/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeNone   StorageType = ""
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
)

// Storage holds batch inputs and archives for asynchronous batches.
type Storage interface {
	// Store 存储文件, returns the key it was stored under
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理过期文件
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage 创建存储实例的工厂方法. StorageTypeNone yields a nil Storage.
func NewStorage(ctx context.Context, storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeNone:
		return nil, nil
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, log)
	case StorageTypeMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
