package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Detected statement file types
const (
	FileTypeCSV  = "CSV"
	FileTypeXLSX = "XLSX"
	FileTypeXLS  = "XLS"
)

// ValidationResult contains the results of file validation
type ValidationResult struct {
	Valid        bool
	DetectedType string // "CSV", "XLSX", "XLS"
	ContentType  string
	Size         int64
	Errors       []string
	Warnings     []string
}

// FileValidator validates uploaded statement files for security and format compliance
type FileValidator struct {
	maxSizeBytes int64
	allowedTypes map[string]bool
}

var (
	zipMagic  = []byte{0x50, 0x4B, 0x03, 0x04}                         // XLSX is a ZIP container
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1} // legacy XLS compound document
)

const genericContentType = "application/octet-stream"

// Allowed MIME types for statement uploads
var allowedMimeTypes = map[string]bool{
	"text/csv":                 true,
	"text/plain":               true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	genericContentType: true,
}

// Allowed file extensions
var allowedExtensions = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xls":  true,
}

// NewFileValidator creates a new file validator with the specified maximum file size
func NewFileValidator(maxSizeBytes int64) *FileValidator {
	return &FileValidator{
		maxSizeBytes: maxSizeBytes,
		allowedTypes: allowedMimeTypes,
	}
}

// ValidateFile performs comprehensive validation on an uploaded file
func (v *FileValidator) ValidateFile(reader io.Reader, filename, contentType string) (*ValidationResult, []byte, error) {
	result := &ValidationResult{
		Valid:       true,
		ContentType: contentType,
		Errors:      []string{},
		Warnings:    []string{},
	}

	// 1. Validate filename
	if err := v.ValidateFilename(filename); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	// 2. Validate MIME type
	if err := v.ValidateMimeType(contentType); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	// 3. Read at most one byte past the limit
	data, err := io.ReadAll(io.LimitReader(reader, v.maxSizeBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}

	// 4. Validate file size
	result.Size = int64(len(data))
	if err := v.ValidateFileSize(result.Size); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result, nil, nil
	}

	// 5. Detect file type from magic bytes
	detectedType, err := v.ValidateMagicBytes(data)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result, data, nil
	}
	result.DetectedType = detectedType

	// 6. Check extension and MIME type agree with the content
	if ext := strings.ToLower(filepath.Ext(filename)); allowedExtensions[ext] && !extensionMatches(ext, detectedType) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("extension %s does not match %s content", ext, detectedType))
	}
	if !v.isContentTypeMatch(contentType, detectedType) {
		result.Valid = false
		result.Errors = append(result.Errors, "MIME type does not match file content")
	}

	return result, data, nil
}

// ValidateFilename validates the filename for security issues
func (v *FileValidator) ValidateFilename(filename string) error {
	if filename == "" {
		return errors.New("filename cannot be empty")
	}

	if strings.Contains(filename, "..") {
		return errors.New("filename contains path traversal")
	}

	if strings.Contains(filename, "\x00") {
		return errors.New("filename contains null bytes")
	}

	if strings.HasPrefix(filename, "/") || strings.HasPrefix(filename, "\\") {
		return errors.New("filename cannot be absolute path")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return errors.New("filename must have an extension")
	}

	if !allowedExtensions[ext] {
		return fmt.Errorf("unsupported file extension: %s (allowed: .xlsx, .xls, .csv)", ext)
	}

	return nil
}

// ValidateMimeType validates the MIME type is allowed
func (v *FileValidator) ValidateMimeType(contentType string) error {
	if contentType == "" {
		return errors.New("MIME type cannot be empty")
	}

	// Drop parameters such as "; charset=utf-8"
	mediaType, _, _ := strings.Cut(contentType, ";")
	if !v.allowedTypes[strings.TrimSpace(mediaType)] {
		return fmt.Errorf("unsupported MIME type: %s", contentType)
	}

	return nil
}

// ValidateMagicBytes detects and validates file type based on magic bytes
func (v *FileValidator) ValidateMagicBytes(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty file")
	}

	if bytes.HasPrefix(data, zipMagic) {
		return FileTypeXLSX, nil
	}

	if bytes.HasPrefix(data, ole2Magic) {
		return FileTypeXLS, nil
	}

	if v.isTextContent(data) {
		return FileTypeCSV, nil
	}

	return "", errors.New("unsupported file type based on content")
}

// ValidateFileSize validates the file size is within limits
func (v *FileValidator) ValidateFileSize(size int64) error {
	if size < 0 {
		return errors.New("invalid file size")
	}

	if size == 0 {
		return errors.New("empty file")
	}

	if size > v.maxSizeBytes {
		return fmt.Errorf("file exceeds maximum allowed size (%d bytes)", v.maxSizeBytes)
	}

	return nil
}

// isContentTypeMatch checks if the MIME type matches the detected file type
func (v *FileValidator) isContentTypeMatch(contentType, detectedType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == genericContentType {
		return true
	}

	switch detectedType {
	case FileTypeCSV:
		// Browsers on Windows report .csv as application/vnd.ms-excel
		return mediaType == "text/csv" || mediaType == "text/plain" || mediaType == "application/vnd.ms-excel"
	case FileTypeXLSX, FileTypeXLS:
		return mediaType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" ||
			mediaType == "application/vnd.ms-excel"
	default:
		return false
	}
}

func extensionMatches(ext, detectedType string) bool {
	switch detectedType {
	case FileTypeCSV:
		return ext == ".csv"
	case FileTypeXLSX:
		return ext == ".xlsx"
	case FileTypeXLS:
		return ext == ".xls"
	}
	return false
}

// isTextContent checks if the data looks like UTF-8 text (for CSV detection).
// Georgian descriptions are multi-byte, so printable ASCII alone is not enough.
func (v *FileValidator) isTextContent(data []byte) bool {
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
		// don't cut a rune in half
		for len(sample) > 0 && !utf8.RuneStart(data[len(sample)]) {
			sample = sample[:len(sample)-1]
		}
	}

	if bytes.Contains(sample, []byte{0x00}) || !utf8.Valid(sample) {
		return false
	}

	total, printable := 0, 0
	for _, r := range string(sample) {
		total++
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' || r == '\ufeff' {
			printable++
		}
	}

	return total > 0 && float64(printable)/float64(total) > 0.95
}
