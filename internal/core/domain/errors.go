package domain

import "errors"

// ============================================================================
// Input Errors
// ============================================================================

var (
	ErrEmptyImage           = errors.New("image is required")
	ErrUnsupportedImage     = errors.New("unsupported or corrupt image")
	ErrInvalidEncoding      = errors.New("image is not valid base64")
	ErrClassIndexOutOfRange = errors.New("class index out of range")
	ErrImageTooLarge        = errors.New("image exceeds size limit")
	ErrInvalidTopK          = errors.New("top_k must not be negative")
)

// ============================================================================
// Model Errors
// ============================================================================

var (
	ErrModelNotLoaded      = errors.New("model is not loaded")
	ErrShapeMismatch       = errors.New("tensor shape does not match model metadata")
	ErrInvalidModelLayout  = errors.New("unknown tensor layout")
	ErrInvalidPreprocessor = errors.New("unknown preprocessing mode")
	ErrInferenceFailed     = errors.New("inference failed")
)

// ============================================================================
// History Errors
// ============================================================================

var (
	ErrAnalysisNotFound  = errors.New("analysis not found")
	ErrAnalysisConflict  = errors.New("analysis with this id already exists")
	ErrHistoryDisabled   = errors.New("analysis history is disabled")
	ErrInvalidAnalysisID = errors.New("invalid analysis id")
)
