package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	"go.uber.org/zap"
)

// Reader is the part of *vesting.Engine the API needs.
type Reader interface {
	GetSchedule(ctx context.Context, id string) (vesting.Schedule, error)
	ListSchedules(ctx context.Context, beneficiary string) ([]vesting.Schedule, error)
	ListAllSchedules(ctx context.Context) ([]vesting.Schedule, error)
	Releasable(ctx context.Context, id string, at time.Time) (vesting.ReleasableInfo, error)
	Status(ctx context.Context) (vesting.Status, error)
	Now() time.Time
}

type Config struct {
	Reader         Reader
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

type Server struct {
	reader  Reader
	logger  *zap.Logger
	timeout time.Duration
	app     *fiber.App
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type scheduleListResponse struct {
	Schedules []vesting.Schedule `json:"schedules"`
}

func NewServer(config Config) (*Server, error) {
	if config.Reader == nil {
		return nil, errors.New("reader is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	server := &Server{
		reader:  config.Reader,
		logger:  logger,
		timeout: timeout,
	}
	server.app = fiber.New(fiber.Config{
		AppName:               "vesting query API",
		DisableStartupMessage: true,
		ErrorHandler:          server.handleError,
	})
	server.app.Use(recover.New())
	server.routes()
	return server, nil
}

// App exposes the fiber application, mainly for app.Test in tests.
func (server *Server) App() *fiber.App {
	return server.app
}

// Listen blocks serving on addr until Shutdown is called.
func (server *Server) Listen(addr string) error {
	server.logger.Info("vesting query API listening", zap.String("addr", addr))
	return server.app.Listen(addr)
}

func (server *Server) Shutdown(ctx context.Context) error {
	return server.app.ShutdownWithContext(ctx)
}

func (server *Server) routes() {
	server.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := server.app.Group("/api/v1")
	v1.Get("/status", server.getStatus)
	v1.Get("/schedules", server.listSchedules)
	v1.Get("/schedules/:id", server.getSchedule)
	v1.Get("/schedules/:id/releasable", server.getReleasable)
}

func (server *Server) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), server.timeout)
}

func (server *Server) getStatus(c *fiber.Ctx) error {
	ctx, cancel := server.requestContext(c)
	defer cancel()

	status, err := server.reader.Status(ctx)
	if err != nil {
		return err
	}
	return c.JSON(status)
}

func (server *Server) listSchedules(c *fiber.Ctx) error {
	ctx, cancel := server.requestContext(c)
	defer cancel()

	var (
		schedules []vesting.Schedule
		err       error
	)
	if beneficiary := strings.TrimSpace(c.Query("beneficiary")); beneficiary != "" {
		schedules, err = server.reader.ListSchedules(ctx, beneficiary)
	} else {
		schedules, err = server.reader.ListAllSchedules(ctx)
	}
	if err != nil {
		return err
	}
	return c.JSON(scheduleListResponse{Schedules: schedules})
}

func (server *Server) getSchedule(c *fiber.Ctx) error {
	ctx, cancel := server.requestContext(c)
	defer cancel()

	schedule, err := server.reader.GetSchedule(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(schedule)
}

func (server *Server) getReleasable(c *fiber.Ctx) error {
	ctx, cancel := server.requestContext(c)
	defer cancel()

	at := server.reader.Now()
	if raw := strings.TrimSpace(c.Query("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return &vesting.Error{Code: vesting.CodeInvalidParameters, Message: "at must be an RFC 3339 timestamp"}
		}
		at = parsed
	}

	info, err := server.reader.Releasable(ctx, c.Params("id"), at)
	if err != nil {
		return err
	}
	return c.JSON(info)
}

func (server *Server) handleError(c *fiber.Ctx, err error) error {
	var fiberError *fiber.Error
	if errors.As(err, &fiberError) {
		return c.Status(fiberError.Code).JSON(errorResponse{Error: fiberError.Message, Code: "http_error"})
	}

	code := vesting.CodeOf(err)
	status := fiber.StatusInternalServerError
	switch code {
	case vesting.CodeNotFound:
		status = fiber.StatusNotFound
	case vesting.CodeInvalidParameters, vesting.CodeArithmeticOverflow:
		status = fiber.StatusBadRequest
	}

	message := err.Error()
	if status == fiber.StatusInternalServerError {
		server.logger.Error("vesting query failed", zap.String("path", c.Path()), zap.Error(err))
		message = "internal server error"
		if code == "" {
			code = "internal"
		}
	}
	return c.Status(status).JSON(errorResponse{Error: message, Code: string(code)})
}
