package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/nzlov/portalchat/actor"
)

// Form routes back the server-rendered chat pages. They always answer with a
// redirect: to the login page of the likely role when nobody is signed in,
// otherwise back to the page the form was posted from.
func (s *Server) registerForms(e *echo.Echo) {
	g := e.Group("/chat")
	g.POST("/send", s.formSend)
	g.POST("/:id/edit", s.formEdit)
	g.POST("/:id/delete", s.formDelete)
}

func (s *Server) formSend(c echo.Context) error {
	return s.form(c, "formSend", func(a actor.Actor) error {
		_, err := s.post(c, a)
		return err
	})
}

func (s *Server) formEdit(c echo.Context) error {
	return s.form(c, "formEdit", func(a actor.Actor) error {
		_, err := s.update(c, a)
		return err
	})
}

func (s *Server) formDelete(c echo.Context) error {
	return s.form(c, "formDelete", func(a actor.Actor) error {
		_, err := s.remove(c, a)
		return err
	})
}

func (s *Server) form(c echo.Context, method string, fn func(a actor.Actor) error) error {
	log := zap.S().With("method", method)
	a, err := s.actor(c)
	if errors.Is(err, actor.ErrUnauthenticated) {
		return c.Redirect(http.StatusSeeOther, s.loginPath(c))
	}
	if err != nil {
		return err
	}
	if err := fn(a); err != nil {
		if statusOf(err) == http.StatusInternalServerError {
			var he *echo.HTTPError
			if !errors.As(err, &he) {
				log.Error(a.String(), ": ", err)
			}
		} else {
			log.Info(a.String(), ": ", err)
		}
	}
	return c.Redirect(http.StatusSeeOther, s.backPath(c))
}

func (s *Server) loginPath(c echo.Context) string {
	kind, ok := s.resolver.Hinted(originHint(c))
	if !ok {
		kind = actor.KindStudent
	}
	if p, ok := s.cfg.LoginPaths[kind]; ok && p != "" {
		return p
	}
	return "/"
}

// backPath returns the referring page when it is on this host.
func (s *Server) backPath(c echo.Context) string {
	ref := strings.TrimSpace(c.Request().Referer())
	if ref == "" {
		return s.cfg.ChatPath
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != c.Request().Host) || (u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https") {
		return s.cfg.ChatPath
	}
	if u.Path == "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return s.cfg.ChatPath
	}
	return u.RequestURI()
}

// serveWs refuses unauthenticated peers before upgrading.
func (s *Server) serveWs(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	if err := s.hub.ServeWs(c.Response(), c.Request(), a); err != nil {
		// the upgrader has already answered the request
		zap.S().With("method", "serveWs").Info("upgrade:", a.String(), err)
	}
	return nil
}
