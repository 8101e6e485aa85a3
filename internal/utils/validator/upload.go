package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/photomaster/internal/agent"
	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

var (
	ErrFileTooLarge = errors.New("file too large")
	ErrTooManyFiles = errors.New("too many files")
)

// UploadValidator 上传文件验证器
type UploadValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize int64 // 单个文件最大字节数
	MaxFiles    int   // 单次请求最大文件数, 0 表示不限制
}

// FileInfo 文件信息
type FileInfo struct {
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	Extension    string `json:"extension"`
	DeclaredMIME string `json:"declaredMime"`
	DetectedMIME string `json:"detectedMime"`
	Hash         string `json:"hash"`
	// Mismatch is set when the sniffed content disagrees with the extension.
	// The file is still accepted; undecodable items are skipped later.
	Mismatch bool `json:"mismatch,omitempty"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// NewUploadValidator 创建新的上传验证器
func NewUploadValidator(log logger.Logger, config *ValidatorConfig) *UploadValidator {
	if config == nil {
		config = &ValidatorConfig{
			MaxFileSize: 50 * 1024 * 1024, // 50MB
		}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &UploadValidator{
		logger: log.Named("validator"),
		config: config,
	}
}

// ValidateFile checks size and extension and sniffs the content type.
func (v *UploadValidator) ValidateFile(file models.Upload) (*FileInfo, error) {
	info := &FileInfo{
		Filename:  file.Filename,
		Size:      int64(len(file.Data)),
		Extension: strings.ToLower(filepath.Ext(file.Filename)),
	}

	if v.config.MaxFileSize > 0 && info.Size > v.config.MaxFileSize {
		return nil, &ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("%s exceeds maximum size of %d bytes", file.Filename, v.config.MaxFileSize),
			Field:   "size",
			err:     ErrFileTooLarge,
		}
	}

	declared, ok := agent.MIMEForFilename(file.Filename)
	if !ok {
		return nil, &ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("file type %q of %s is not allowed", info.Extension, file.Filename),
			Field:   "extension",
			err:     models.ErrUnsupportedType,
		}
	}
	info.DeclaredMIME = declared

	detected := mimetype.Detect(file.Data)
	info.DetectedMIME = detected.String()
	info.Mismatch = !matches(detected, declared)

	sum := sha256.Sum256(file.Data)
	info.Hash = hex.EncodeToString(sum[:])

	if info.Mismatch {
		v.logger.Warn("Upload content does not match extension",
			logger.String("filename", file.Filename),
			logger.String("declared", declared),
			logger.String("detected", info.DetectedMIME),
		)
	}
	return info, nil
}

// ValidateFiles validates every file and stops at the first rejection.
func (v *UploadValidator) ValidateFiles(files []models.Upload) ([]*FileInfo, error) {
	if v.config.MaxFiles > 0 && len(files) > v.config.MaxFiles {
		return nil, &ValidationError{
			Code:    "TOO_MANY_FILES",
			Message: fmt.Sprintf("at most %d files per request, got %d", v.config.MaxFiles, len(files)),
			Field:   "files",
			err:     ErrTooManyFiles,
		}
	}

	infos := make([]*FileInfo, 0, len(files))
	for _, f := range files {
		info, err := v.ValidateFile(f)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ValidateBackground additionally requires an image extension.
func (v *UploadValidator) ValidateBackground(file models.Upload) (*FileInfo, error) {
	info, err := v.ValidateFile(file)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(info.DeclaredMIME, "image/") {
		return nil, &ValidationError{
			Code:    "INVALID_BACKGROUND",
			Message: fmt.Sprintf("background %s must be an image", file.Filename),
			Field:   "background",
			err:     models.ErrUnsupportedType,
		}
	}
	return info, nil
}

func matches(detected *mimetype.MIME, declared string) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return true
		}
		// 单列 CSV 常被识别为纯文本
		if declared == "text/csv" && m.Is("text/plain") {
			return true
		}
	}
	return false
}
