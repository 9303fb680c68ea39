// Package api is the HTTP surface of the room: JSON endpoints, interactive
// form routes and the live channel upgrade.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/nzlov/portalchat/actor"
	"github.com/nzlov/portalchat/attachment"
	"github.com/nzlov/portalchat/bus"
	"github.com/nzlov/portalchat/message"
	"github.com/nzlov/portalchat/push"
	"github.com/nzlov/portalchat/room"
	"github.com/nzlov/portalchat/session"
)

const AttachmentPrefix = "/api/chat/attachments/"

type Config struct {
	SessionSecret string
	SessionCookie string
	DefaultLimit  int

	VAPIDPublicKey string

	// Login pages per kind, used when an interactive route has no actor.
	LoginPaths map[actor.Kind]string
	// ChatPath is where form routes land when the referrer is unusable.
	ChatPath string
}

type Server struct {
	cfg      Config
	resolver *actor.Resolver
	messages *message.Store
	format   *message.Formatter
	files    *attachment.Store
	events   bus.Publisher
	hub      *room.Hub
	subs     *push.Registry
}

func New(cfg Config, resolver *actor.Resolver, messages *message.Store, format *message.Formatter, files *attachment.Store, events bus.Publisher, hub *room.Hub, subs *push.Registry) *Server {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/chat"
	}
	if cfg.LoginPaths == nil {
		cfg.LoginPaths = map[actor.Kind]string{
			actor.KindAdmin:   "/admin/login",
			actor.KindStaff:   "/staff/login",
			actor.KindStudent: "/login",
		}
	}
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		messages: messages,
		format:   format,
		files:    files,
		events:   events,
		hub:      hub,
		subs:     subs,
	}
}

// Echo builds the router with every route and middleware installed.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.Use(session.Middleware(s.cfg.SessionSecret, s.cfg.SessionCookie))

	s.registerChat(e)
	s.registerPush(e)
	s.registerForms(e)
	e.GET("/ws", s.serveWs)
	return e
}

// requestLogger records the path only; the query may carry a session token.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log := zap.S().With("method", "http")
			if v.Error != nil && v.Status >= http.StatusInternalServerError {
				log.Errorw(v.Method+" "+v.URIPath, "status", v.Status, "latency", v.Latency, "ip", v.RemoteIP, "err", v.Error)
				return nil
			}
			log.Debugw(v.Method+" "+v.URIPath, "status", v.Status, "latency", v.Latency, "ip", v.RemoteIP)
			return nil
		},
	})
}

// statusOf classifies domain errors.
func statusOf(err error) int {
	switch {
	case errors.Is(err, actor.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, message.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, message.ErrNotFound),
		errors.Is(err, push.ErrNotFound),
		errors.Is(err, attachment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, message.ErrInvalidInput),
		errors.Is(err, push.ErrInvalidSubscription),
		errors.Is(err, attachment.ErrTooLarge):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// errorHandler renders every failure as {"ok": false, "error": "..."}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else if code == http.StatusInternalServerError {
		zap.S().With("method", "errorHandler").Error(c.Request().Method, " ", c.Request().URL.Path, ": ", err)
		msg = http.StatusText(code)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, echo.Map{"ok": false, "error": msg})
	}
	if err != nil {
		zap.S().With("method", "errorHandler").Error("write:", err)
	}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// originHint is what the resolver uses to pick a role for ambiguous sessions.
func originHint(c echo.Context) string {
	if ref := c.Request().Referer(); ref != "" {
		return ref
	}
	return c.Request().URL.Path
}

func (s *Server) actor(c echo.Context) (actor.Actor, error) {
	return s.resolver.Resolve(c.Request().Context(), session.FromContext(c), originHint(c))
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid message id")
	}
	return id, nil
}

// queryInt returns def when name is absent and an error when it is malformed.
func queryInt(c echo.Context, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid " + name)
	}
	return v, nil
}
