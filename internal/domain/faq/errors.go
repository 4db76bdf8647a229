package faq

import "errors"

// Error codes carried by apperrors.AppError values returned from this package.
const (
	CodeInvalidInput         = "invalid_input"
	CodeInvalidDataset       = "invalid_dataset"
	CodeEmbeddingUnavailable = "embedding_unavailable"
	CodeDimensionMismatch    = "dimension_mismatch"
	CodeStoreUnavailable     = "store_unavailable"
	CodeStorageError         = "storage_error"
	CodeNotFound             = "not_found"
)

var (
	// ErrDimensionMismatch is returned by index implementations when a vector
	// does not have the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyDataset means the uploaded dataset contained no rows.
	ErrEmptyDataset = errors.New("dataset is empty")
)
