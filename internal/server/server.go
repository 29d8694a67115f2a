package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/webp-converter/internal/utils"
	"github.com/menta2k/webp-converter/pkg/session"
	"github.com/menta2k/webp-converter/pkg/settings"
	"github.com/menta2k/webp-converter/pkg/types"
)

// MaxUploadBytes bounds the request body size
const MaxUploadBytes = 64 << 20

// Config configures the HTTP surface. Settings is optional; without it the
// settings endpoints answer 404.
type Config struct {
	Addr             string
	Settings         *settings.Store
	OnBeforeShutdown func()
	OnReady          func(addr string)
}

// Server exposes one editing session over HTTP
type Server struct {
	config       Config
	session      *session.Session
	app          *fiber.App
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New builds the fiber app serving sess under /api
func New(sess *session.Session, config Config) *Server {
	if config.Addr == "" {
		config.Addr = "localhost:0"
	}
	s := &Server{
		config:     config,
		session:    sess,
		shutdownCh: make(chan struct{}),
	}
	s.app = fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             MaxUploadBytes,
		ErrorHandler:          errorHandler,
	})
	s.routes()
	return s
}

// App returns the underlying fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

// Shutdown asks Run to stop; it is safe to call more than once
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
}

// StatusFor maps a domain error to an HTTP status code
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, types.ErrInvalidInput),
		errors.Is(err, types.ErrInvalidDimension),
		errors.Is(err, types.ErrOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrNoSource):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	if code == http.StatusNotFound && c.Path() == "/favicon.ico" {
		return nil
	}
	log.Ctx(c.UserContext()).Error().
		Err(err).
		Str("path", c.Path()).
		Str("method", c.Method()).
		Int("status", code).
		Msg("Request failed")

	msg := err.Error()
	if code == http.StatusInternalServerError {
		var fiberErr *fiber.Error
		if !errors.As(err, &fiberErr) && !errors.Is(err, types.ErrRenderingBackendUnavailable) && !errors.Is(err, types.ErrEncode) {
			msg = "Internal Server Error"
		}
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// Run listens on Config.Addr until ctx is done or Shutdown is called
func (s *Server) Run(ctx context.Context) error {
	s.app.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := s.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-s.shutdownCh:
		}
		if fn := s.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown server")
		}
	}()

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := s.app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

type outcomeResponse struct {
	Applied bool             `json:"applied"`
	Seq     uint64           `json:"seq"`
	State   session.Snapshot `json:"state"`
}

func (s *Server) respond(c *fiber.Ctx, out *session.Outcome, err error) error {
	if err != nil {
		return err
	}
	return c.JSON(outcomeResponse{Applied: out.Applied, Seq: out.Seq, State: s.session.Snapshot()})
}

func (s *Server) routes() {
	api := s.app.Group("/api")

	api.Post("/source", func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "missing multipart field \"file\"")
		}
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("failed to open upload: %w", err)
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("failed to read upload: %w", err)
		}
		out, err := s.session.LoadSource(c.UserContext(), fh.Filename, data)
		return s.respond(c, out, err)
	})

	api.Post("/dimensions", func(c *fiber.Ctx) error {
		var request types.Dimensions
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		out, err := s.session.SetDimensions(c.UserContext(), request)
		return s.respond(c, out, err)
	})

	api.Post("/width", func(c *fiber.Ctx) error {
		var request struct {
			Value int `json:"value"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		out, err := s.session.SetWidth(c.UserContext(), request.Value)
		return s.respond(c, out, err)
	})

	api.Post("/height", func(c *fiber.Ctx) error {
		var request struct {
			Value int `json:"value"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		out, err := s.session.SetHeight(c.UserContext(), request.Value)
		return s.respond(c, out, err)
	})

	api.Post("/mask", func(c *fiber.Ctx) error {
		var request struct {
			Circle       bool `json:"circle"`
			BorderRadius int  `json:"borderRadius"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		out, err := s.session.SetMask(c.UserContext(), types.MaskFor(request.Circle, request.BorderRadius))
		return s.respond(c, out, err)
	})

	api.Post("/quality", func(c *fiber.Ctx) error {
		var request struct {
			Quality float64 `json:"quality"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		out, err := s.session.SetQuality(c.UserContext(), request.Quality)
		return s.respond(c, out, err)
	})

	api.Post("/lock", func(c *fiber.Ctx) error {
		var request struct {
			Locked bool `json:"locked"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		s.session.SetLockAspect(request.Locked)
		snap := s.session.Snapshot()
		return c.JSON(outcomeResponse{Seq: snap.Seq, State: snap})
	})

	api.Get("/crop/suggest", func(c *fiber.Ctx) error {
		region, err := s.session.SuggestCrop()
		if err != nil {
			return err
		}
		return c.JSON(region)
	})

	api.Post("/crop", func(c *fiber.Ctx) error {
		// display is the preview size a pixel region was drawn on
		var request struct {
			types.CropRegion
			Display types.Dimensions `json:"display"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if request.Unit == "" {
			request.Unit = types.UnitPercent
		}
		out, err := s.session.ApplyDisplayCrop(c.UserContext(), request.CropRegion, request.Display)
		return s.respond(c, out, err)
	})

	api.Delete("/crop", func(c *fiber.Ctx) error {
		out, err := s.session.ClearCrop(c.UserContext())
		return s.respond(c, out, err)
	})

	api.Get("/state", func(c *fiber.Ctx) error {
		snap := s.session.Snapshot()
		return c.JSON(fiber.Map{
			"state":         snap,
			"output_size_h": utils.FormatFileSize(int64(snap.OutputSize)),
		})
	})

	api.Get("/output", func(c *fiber.Ctx) error {
		h := s.session.Current()
		if h == nil {
			return fiber.NewError(http.StatusNotFound, "no output yet")
		}
		data := h.Bytes()
		if data == nil {
			return fiber.NewError(http.StatusNotFound, "output was superseded")
		}
		c.Attachment(h.Name)
		c.Set(fiber.HeaderContentType, h.MimeType())
		c.Set("X-Output-Id", h.ID)
		return c.Send(data)
	})

	api.Post("/reset", func(c *fiber.Ctx) error {
		s.session.Reset(c.UserContext())
		snap := s.session.Snapshot()
		return c.JSON(outcomeResponse{Seq: snap.Seq, State: snap})
	})

	api.Get("/settings", func(c *fiber.Ctx) error {
		if s.config.Settings == nil {
			return fiber.NewError(http.StatusNotFound, "settings store disabled")
		}
		return c.JSON(s.config.Settings.Load())
	})

	api.Post("/settings", func(c *fiber.Ctx) error {
		if s.config.Settings == nil {
			return fiber.NewError(http.StatusNotFound, "settings store disabled")
		}
		var request settings.Settings
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		merged := s.config.Settings.Load().Merge(request)
		saved, err := s.config.Settings.Save(merged)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"saved": saved, "settings": merged})
	})

	api.Post("/shutdown", func(c *fiber.Ctx) error {
		s.Shutdown()
		return c.SendStatus(http.StatusNoContent)
	})
}
