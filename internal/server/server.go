// Package server exposes an api.Service over HTTP with fiber.
//
// Each route decodes its parameters, calls one Service method and writes the
// envelope back as JSON. The HTTP status mirrors Response.Status.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/roach88/sheetdb/internal/api"
	"github.com/roach88/sheetdb/internal/query"
	"github.com/roach88/sheetdb/internal/schema"
)

// Server routes HTTP requests to a Service.
type Server struct {
	app *fiber.App
	svc *api.Service
}

// Option configures a Server.
type Option func(*options)

type options struct {
	metrics http.Handler
}

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(o *options) {
		o.metrics = h
	}
}

// New creates a Server with all routes registered.
func New(svc *api.Service, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{svc: svc}
	// Params feed map keys in the lock guard and the cache, so they must
	// outlive the request buffer.
	s.app = fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	// A panicking handler becomes a 500 envelope instead of ending the process.
	s.app.Use(recover.New())

	if o.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(o.metrics))
	}

	r := s.app.Group("/api")
	r.Get("/:table", s.getAll)
	r.Post("/:table", s.create)
	r.Post("/:table/ids", s.readIDList)
	r.Post("/:table/integrity", s.checkIntegrity)
	r.Get("/:table/history/:id", s.readHistory)
	r.Post("/:table/history/:id/restore", s.restore)
	r.Get("/:table/:id", s.read)
	r.Patch("/:table/:id", s.update)
	r.Delete("/:table/:id", s.remove)
	r.Get("/:table/:id/related/:child/:fk", s.related)
	r.Get("/:table/:id/junction/:source/:target", s.junction)

	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	slog.Info("server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) create(c *fiber.Ctx) error {
	raw, err := decodeObject(c.Body())
	if err != nil {
		return err
	}
	if c.QueryBool("logs") {
		return s.reply(c)(s.svc.CreateWithLogs(c.UserContext(), c.Params("table"), raw))
	}
	return s.reply(c)(s.svc.Create(c.UserContext(), c.Params("table"), raw))
}

func (s *Server) read(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	return s.reply(c)(s.svc.Read(c.UserContext(), c.Params("table"), id))
}

func (s *Server) readHistory(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	return s.reply(c)(s.svc.ReadHistory(c.UserContext(), c.Params("table"), id))
}

func (s *Server) update(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	patch, err := decodeObject(c.Body())
	if err != nil {
		return err
	}
	if c.QueryBool("logs") {
		return s.reply(c)(s.svc.UpdateWithLogs(c.UserContext(), c.Params("table"), id, patch))
	}
	return s.reply(c)(s.svc.Update(c.UserContext(), c.Params("table"), id, patch))
}

func (s *Server) remove(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	return s.reply(c)(s.svc.Remove(c.UserContext(), c.Params("table"), id, c.QueryBool("cascade")))
}

func (s *Server) restore(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	return s.reply(c)(s.svc.Restore(c.UserContext(), c.Params("table"), id))
}

func (s *Server) readIDList(c *fiber.Ctx) error {
	var body struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "body must be {\"ids\": [...]}")
	}
	return s.reply(c)(s.svc.ReadIDList(c.UserContext(), c.Params("table"), body.IDs))
}

func (s *Server) getAll(c *fiber.Ctx) error {
	return s.reply(c)(s.svc.GetAll(c.UserContext(), c.Params("table"), queryOptions(c), c.QueryBool("cache", true)))
}

func (s *Server) related(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	return s.reply(c)(s.svc.GetRelatedRecords(c.UserContext(), id, c.Params("child"), c.Params("fk"), queryOptions(c)))
}

func (s *Server) junction(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	return s.reply(c)(s.svc.GetJunctionRecords(c.UserContext(),
		c.Params("table"), c.Params("source"), c.Params("target"), id, queryOptions(c)))
}

func (s *Server) checkIntegrity(c *fiber.Ctx) error {
	return s.reply(c)(s.svc.CheckTableIntegrity(c.UserContext(), c.Params("table")))
}

// reply writes resp, or passes err on to the error handler.
func (s *Server) reply(c *fiber.Ctx) func(api.Response, error) error {
	return func(resp api.Response, err error) error {
		if err != nil {
			return err
		}
		return c.Status(resp.Status).JSON(resp)
	}
}

// handleError renders errors that never became an envelope. Unknown tables
// are a 404 here: over HTTP the table name is client input.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var resp api.Response
	var fe *fiber.Error
	switch {
	case errors.Is(err, schema.ErrUnknownTable):
		resp = s.svc.Reject(fiber.StatusNotFound, "UNKNOWN_TABLE", err.Error())
	case errors.As(err, &fe):
		code := "INVALID_REQUEST"
		if fe.Code == fiber.StatusNotFound || fe.Code == fiber.StatusMethodNotAllowed {
			code = "NO_ROUTE"
		}
		resp = s.svc.Reject(fe.Code, code, fe.Message)
	default:
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		resp = s.svc.Reject(fiber.StatusInternalServerError, "INTERNAL", "internal error")
	}
	return c.Status(resp.Status).JSON(resp)
}

func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s must be a positive integer", name))
	}
	return id, nil
}

func queryOptions(c *fiber.Ctx) query.Options {
	return query.Options{
		Page:      c.QueryInt("page"),
		PageSize:  c.QueryInt("pageSize"),
		SortBy:    c.Query("sortBy"),
		SortOrder: query.SortOrder(c.Query("sortOrder")),
	}
}

// decodeObject parses a JSON object body. Numbers stay json.Number so the
// schema coercer sees the client's exact digits. An empty body is {}.
func decodeObject(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "body must be a JSON object")
	}
	return raw, nil
}
