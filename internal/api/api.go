// Package api wraps engine operations in a uniform response envelope.
//
// Every call returns a Response carrying an HTTP-style status code. Data
// conditions (validation failures, missing records, lock timeouts) are
// reported inside the envelope. The only Go error a Service method returns is
// caller misuse: an unregistered table name.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/roach88/sheetdb/internal/engine"
	"github.com/roach88/sheetdb/internal/query"
	"github.com/roach88/sheetdb/internal/schema"
	"github.com/roach88/sheetdb/internal/validate"
)

// Response is the envelope returned by every Service method.
type Response struct {
	Status   int            `json:"status"`
	Message  string         `json:"message"`
	Data     any            `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OK reports whether the status is in the 2xx range.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Service exposes a Database through the envelope.
//
// Thread-safety: Service is safe for concurrent use if its generator is.
type Service struct {
	db  *engine.Database
	ids RequestIDGenerator
}

// NewService creates a Service. A nil generator uses UUIDv7Generator.
func NewService(db *engine.Database, ids RequestIDGenerator) *Service {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	return &Service{db: db, ids: ids}
}

// Database returns the wrapped database.
func (s *Service) Database() *engine.Database {
	return s.db
}

// Create inserts a record. Status 201 on success.
func (s *Service) Create(ctx context.Context, table string, raw map[string]any) (Response, error) {
	w, err := s.db.Create(ctx, table, raw)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.written(http.StatusCreated, "record created", w, nil), nil
}

// CreateWithLogs is Create with the validation trace in metadata.trace,
// included on failure as well.
func (s *Service) CreateWithLogs(ctx context.Context, table string, raw map[string]any) (Response, error) {
	w, trace, err := s.db.CreateWithLogs(ctx, table, raw)
	if err != nil {
		return s.fail(err, trace)
	}
	return s.written(http.StatusCreated, "record created", w, trace), nil
}

// Read returns one live record.
func (s *Service) Read(ctx context.Context, table string, id int64) (Response, error) {
	rec, err := s.db.Read(ctx, table, id)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.ok("ok", rec, nil), nil
}

// ReadHistory returns one removed record.
func (s *Service) ReadHistory(ctx context.Context, table string, id int64) (Response, error) {
	rec, err := s.db.ReadHistory(ctx, table, id)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.ok("ok", rec, nil), nil
}

// Update patches one live record.
func (s *Service) Update(ctx context.Context, table string, id int64, patch map[string]any) (Response, error) {
	w, err := s.db.Update(ctx, table, id, patch)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.written(http.StatusOK, "record updated", w, nil), nil
}

// UpdateWithLogs is Update with the validation trace in metadata.trace.
func (s *Service) UpdateWithLogs(ctx context.Context, table string, id int64, patch map[string]any) (Response, error) {
	w, trace, err := s.db.UpdateWithLogs(ctx, table, id, patch)
	if err != nil {
		return s.fail(err, trace)
	}
	return s.written(http.StatusOK, "record updated", w, trace), nil
}

// Remove moves a record to history. With cascade, junction rows
// referencing it are removed first and listed in the data.
func (s *Service) Remove(ctx context.Context, table string, id int64, cascade bool) (Response, error) {
	if cascade {
		res, err := s.db.RemoveWithCascade(ctx, table, id)
		if err != nil {
			return s.fail(err, nil)
		}
		return s.ok("record removed", res, nil), nil
	}

	rec, err := s.db.Remove(ctx, table, id)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.ok("record removed", rec, nil), nil
}

// Restore moves a removed record back to the live table.
func (s *Service) Restore(ctx context.Context, table string, id int64) (Response, error) {
	rec, err := s.db.Restore(ctx, table, id)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.ok("record restored", rec, nil), nil
}

// ReadIDList returns {data, notFound} for a list of ids.
func (s *Service) ReadIDList(ctx context.Context, table string, ids []int64) (Response, error) {
	list, err := s.db.ReadIDList(ctx, table, ids)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.ok("ok", list, nil), nil
}

// GetAll lists a table. Pagination details go to metadata.
func (s *Service) GetAll(ctx context.Context, table string, opts query.Options, useCache bool) (Response, error) {
	page, err := s.db.GetAll(ctx, table, opts, useCache)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.page(page), nil
}

// GetRelatedRecords lists the children of a parent id.
func (s *Service) GetRelatedRecords(ctx context.Context, fkValue int64, childTable, fkField string, opts query.Options) (Response, error) {
	page, err := s.db.GetRelatedRecords(ctx, fkValue, childTable, fkField, opts)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.page(page), nil
}

// GetJunctionRecords lists the targets linked to a source id.
func (s *Service) GetJunctionRecords(ctx context.Context, junction, source, target string, sourceID int64, opts query.Options) (Response, error) {
	page, err := s.db.GetJunctionRecords(ctx, junction, source, target, sourceID, opts)
	if err != nil {
		return s.fail(err, nil)
	}
	return s.page(page), nil
}

// CheckTableIntegrity repairs a junction table. Problems found are reported
// in the data of a 200 response.
func (s *Service) CheckTableIntegrity(ctx context.Context, junction string) (Response, error) {
	report, err := s.db.CheckTableIntegrity(ctx, junction)
	if err != nil {
		return s.fail(err, nil)
	}
	msg := "integrity check passed"
	if n := len(report.Moved); n > 0 {
		msg = fmt.Sprintf("moved %d junction row(s) to history", n)
	}
	return s.ok(msg, report, nil), nil
}

// Reject builds an envelope for a request that never reached the engine,
// such as an unknown table or a malformed body.
func (s *Service) Reject(status int, code, message string) Response {
	return s.respond(status, message, nil, map[string]any{"error": code})
}

func (s *Service) ok(message string, data any, meta map[string]any) Response {
	return s.respond(http.StatusOK, message, data, meta)
}

func (s *Service) written(status int, message string, w *engine.Write, trace validate.Trace) Response {
	meta := map[string]any{}
	if !w.Report.Clean() {
		meta["report"] = w.Report
	}
	if trace != nil {
		meta["trace"] = trace
	}
	return s.respond(status, message, w.Record, meta)
}

func (s *Service) page(p *engine.Page) Response {
	return s.ok("ok", p.Data, map[string]any{
		"total":     p.Metadata.Total,
		"page":      p.Metadata.Page,
		"pageSize":  p.Metadata.PageSize,
		"pageCount": p.Metadata.PageCount,
		"cached":    p.Cached,
	})
}

func (s *Service) respond(status int, message string, data any, meta map[string]any) Response {
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta["requestId"] = s.ids.Generate()
	return Response{
		Status:   status,
		Message:  message,
		Data:     data,
		Metadata: meta,
	}
}

// fail converts an engine error into an envelope. Unknown tables are
// returned as Go errors.
func (s *Service) fail(err error, trace validate.Trace) (Response, error) {
	if errors.Is(err, schema.ErrUnknownTable) {
		return Response{}, err
	}

	status := StatusOf(err)
	meta := map[string]any{}
	if trace != nil {
		meta["trace"] = trace
	}

	var ee *engine.Error
	if !errors.As(err, &ee) && status == http.StatusConflict {
		ee = &engine.Error{Code: engine.ErrCodeLockTimeout, Message: "table is busy, retry later", Err: err}
	}
	if ee == nil {
		slog.Error("operation failed", "error", err)
		meta["error"] = "INTERNAL"
		return s.respond(status, "internal error", nil, meta), nil
	}

	meta["error"] = string(ee.Code)
	var data any
	switch ee.Code {
	case engine.ErrCodeValidation:
		if ve, ok := engine.ValidationDetail(err); ok {
			detail := map[string]any{"fields": ve.Fields}
			if len(ve.Coercion) > 0 {
				detail["coercion"] = ve.Coercion
			}
			data = detail
		}
	case engine.ErrCodeLockTimeout:
		meta["retryable"] = true
	}
	return s.respond(status, ee.Message, data, meta), nil
}

// StatusOf maps an engine error to a response status.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case engine.IsValidation(err), engine.IsInvalidQuery(err):
		return http.StatusBadRequest
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsLockTimeout(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
