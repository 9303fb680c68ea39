package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nzlov/portalchat/push"
)

// subscriptionRequest accepts PushSubscription.toJSON() as sent by browsers,
// or the keys flattened next to the endpoint.
type subscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) registerPush(e *echo.Echo) {
	g := e.Group("/api/push")
	g.GET("/public-key", s.publicKey)
	g.GET("/status", s.pushStatus)
	g.POST("/subscribe", s.subscribe)
	g.POST("/unsubscribe", s.unsubscribe)
	g.POST("/toggle", s.toggle)
}

func (s *Server) publicKey(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"ok":         true,
		"public_key": s.cfg.VAPIDPublicKey,
		"enabled":    s.cfg.VAPIDPublicKey != "",
	})
}

func (s *Server) subscribe(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	req := subscriptionRequest{}
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid subscription")
	}
	p256dh, auth := req.Keys.P256dh, req.Keys.Auth
	if p256dh == "" {
		p256dh = req.P256dh
	}
	if auth == "" {
		auth = req.Auth
	}
	sub, err := s.subs.Subscribe(c.Request().Context(), a.Key(), strings.TrimSpace(req.Endpoint), strings.TrimSpace(p256dh), strings.TrimSpace(auth))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "id": sub.ID, "enabled": sub.Enabled})
}

func (s *Server) unsubscribe(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	req := subscriptionRequest{}
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid subscription")
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		return push.ErrInvalidSubscription
	}
	if err := s.subs.Unsubscribe(c.Request().Context(), a.Key(), strings.TrimSpace(req.Endpoint)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (s *Server) toggle(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	req := toggleRequest{}
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return badRequest("enabled is required")
	}
	n, err := s.subs.Toggle(c.Request().Context(), a.Key(), *req.Enabled)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "enabled": *req.Enabled, "updated": n})
}

func (s *Server) pushStatus(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	on, err := s.subs.Status(c.Request().Context(), a.Key())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "enabled": on, "public_key": s.cfg.VAPIDPublicKey})
}
