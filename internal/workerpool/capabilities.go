package workerpool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rajeee/chatdf/internal/errortranslate"
	"github.com/rajeee/chatdf/internal/filecache"
)

const (
	maxValidateFileBytes = 500 * 1024 * 1024
	magicByteProbeBytes  = 512
	resultRowCap         = 1000
	queryDefaultLimit    = 1000
)

// validateURL implements §4.2's validate_url capability.
func (p *Pool) validateURL(ctx context.Context, rawURL string) ValidateURLResult {
	if te := checkURLSafety(rawURL, p.allowPrivateURLs); te != nil {
		return ValidateURLResult{Valid: false, Err: te}
	}

	if isFileScheme(rawURL) {
		return validateFileURL(rawURL)
	}

	if resp, err := p.httpClient.Head(rawURL); err == nil {
		defer resp.Body.Close()
		if resp.ContentLength > maxValidateFileBytes {
			return ValidateURLResult{Valid: false, Err: &TaskError{
				ErrorType: ErrorTypeValidation,
				Message:   "remote file exceeds 500 MiB size limit",
			}}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ValidateURLResult{Valid: false, Err: &TaskError{ErrorType: ErrorTypeInternal, Message: "building validation request", Details: err.Error()}}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", magicByteProbeBytes-1))
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ValidateURLResult{Valid: false, Err: &TaskError{ErrorType: ErrorTypeNetwork, Message: "fetching dataset for validation", Details: err.Error()}}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ValidateURLResult{Valid: false, Err: &TaskError{ErrorType: ErrorTypeNetwork, Message: fmt.Sprintf("server returned status %d", resp.StatusCode)}}
	}

	buf := make([]byte, magicByteProbeBytes)
	n, _ := io.ReadFull(resp.Body, buf)
	_ = bytes.TrimRight(buf[:n], "\x00") // magic-byte probe: the bytes are read but not inspected; the format is not confirmed

	var size *int64
	if resp.ContentLength >= 0 {
		v := resp.ContentLength
		size = &v
	}
	return ValidateURLResult{Valid: true, FileSizeBytes: size}
}

// getSchema implements §4.2's get_schema capability.
func (p *Pool) getSchema(ctx context.Context, rawURL string) SchemaResult {
	path, err := p.fileCache.Download(ctx, rawURL)
	if err != nil {
		return SchemaResult{Err: classifyDownloadError(err)}
	}
	columns, rowCount, err := p.engine.Schema(ctx, path)
	if err != nil {
		return SchemaResult{Err: &TaskError{ErrorType: ErrorTypeInternal, Message: "reading dataset schema", Details: err.Error()}}
	}
	return SchemaResult{Columns: columns, RowCount: rowCount}
}

// runQuery implements §4.2's run_query capability.
func (p *Pool) runQuery(ctx context.Context, sql string, datasets []Dataset) QueryResult {
	start := time.Now()

	if !IsReadOnly(sql) {
		return QueryResult{Err: &TaskError{ErrorType: ErrorTypeSQL, Message: "only SELECT and WITH queries are permitted"}}
	}
	effectiveSQL := InjectLimit(sql, queryDefaultLimit)

	tables := make(map[string]string, len(datasets))
	for _, ds := range datasets {
		path, err := p.fileCache.Download(ctx, ds.URL)
		if err != nil {
			return QueryResult{Err: classifyDownloadError(err)}
		}
		tables[ds.TableName] = path
	}

	columns, rows, err := p.engine.Execute(ctx, effectiveSQL, tables)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		translated := errortranslate.Translate(err.Error())
		return QueryResult{Err: &TaskError{ErrorType: ErrorTypeSQL, Message: translated}, ElapsedMS: elapsed}
	}

	clamped, total := ClampRows(rows, resultRowCap)
	return QueryResult{Columns: columns, Rows: clamped, TotalRows: total, ElapsedMS: elapsed}
}

func isFileScheme(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme == "file"
}

// validateFileURL is the file:// counterpart of validateURL's HEAD-plus-
// ranged-GET probe: it stats and samples the local file directly instead of
// issuing an HTTP request, which a file:// URL cannot satisfy.
func validateFileURL(rawURL string) ValidateURLResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ValidateURLResult{Valid: false, Err: &TaskError{ErrorType: ErrorTypeValidation, Message: "invalid URL format"}}
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}

	f, err := os.Open(path)
	if err != nil {
		return ValidateURLResult{Valid: false, Err: &TaskError{ErrorType: ErrorTypeNetwork, Message: "opening local file", Details: err.Error()}}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ValidateURLResult{Valid: false, Err: &TaskError{ErrorType: ErrorTypeInternal, Message: "statting local file", Details: err.Error()}}
	}
	if info.Size() > maxValidateFileBytes {
		return ValidateURLResult{Valid: false, Err: &TaskError{
			ErrorType: ErrorTypeValidation,
			Message:   "local file exceeds 500 MiB size limit",
		}}
	}

	buf := make([]byte, magicByteProbeBytes)
	n, _ := io.ReadFull(f, buf)
	_ = bytes.TrimRight(buf[:n], "\x00") // magic-byte probe: the bytes are read but not inspected; the format is not confirmed

	size := info.Size()
	return ValidateURLResult{Valid: true, FileSizeBytes: &size}
}

func classifyDownloadError(err error) *TaskError {
	if errors.Is(err, filecache.ErrFileTooLarge) {
		return &TaskError{ErrorType: ErrorTypeValidation, Message: err.Error()}
	}
	return &TaskError{ErrorType: ErrorTypeNetwork, Message: "downloading dataset", Details: err.Error()}
}
