package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/nzlov/portalchat/actor"
	"github.com/nzlov/portalchat/attachment"
	"github.com/nzlov/portalchat/bus"
	"github.com/nzlov/portalchat/message"
)

type bodyRequest struct {
	Body string `json:"body" form:"body"`
}

func (s *Server) registerChat(e *echo.Echo) {
	g := e.Group("/api/chat")
	g.GET("/messages", s.recent)
	g.GET("/messages/older", s.older)
	g.GET("/messages/newer", s.newer)
	g.POST("/messages", s.send)
	g.PATCH("/messages/:id", s.edit)
	g.POST("/messages/:id/edit", s.edit)
	g.DELETE("/messages/:id", s.delete)
	g.POST("/messages/:id/delete", s.delete)
	g.GET("/attachments/*", s.download)
}

func (s *Server) limit(c echo.Context) (int, error) {
	v, err := queryInt(c, "limit", int64(s.cfg.DefaultLimit))
	if err != nil {
		return 0, err
	}
	return message.ClampLimit(int(v)), nil
}

func (s *Server) page(c echo.Context, p message.Page) error {
	var oldest *int64
	if len(p.Messages) > 0 {
		oldest = &p.OldestID
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ok":        true,
		"items":     s.format.Items(p.Messages, s.format.KeyOf(p.PrevAt)),
		"oldest_id": oldest,
		"has_more":  p.HasMore,
	})
}

func (s *Server) recent(c echo.Context) error {
	if _, err := s.actor(c); err != nil {
		return err
	}
	limit, err := s.limit(c)
	if err != nil {
		return err
	}
	p, err := s.messages.Recent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return s.page(c, p)
}

func (s *Server) older(c echo.Context) error {
	if _, err := s.actor(c); err != nil {
		return err
	}
	before, err := queryInt(c, "before_id", 0)
	if err != nil {
		return err
	}
	if before <= 0 {
		return badRequest("before_id is required")
	}
	limit, err := s.limit(c)
	if err != nil {
		return err
	}
	p, err := s.messages.Before(c.Request().Context(), before, limit)
	if err != nil {
		return err
	}
	return s.page(c, p)
}

// newer serves polling clients that missed live frames.
func (s *Server) newer(c echo.Context) error {
	if _, err := s.actor(c); err != nil {
		return err
	}
	after, err := queryInt(c, "after_id", -1)
	if err != nil {
		return err
	}
	if after < 0 {
		return badRequest("after_id is required")
	}
	limit, err := s.limit(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	msgs, err := s.messages.After(ctx, after, limit)
	if err != nil {
		return err
	}
	prev, err := s.messages.PrevAt(ctx, after)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ok":    true,
		"items": s.format.Items(msgs, s.format.KeyOf(prev)),
	})
}

func (s *Server) send(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	v, err := s.post(c, a)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "message": v})
}

func (s *Server) edit(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	v, err := s.update(c, a)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "message": v})
}

func (s *Server) delete(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	id, err := s.remove(c, a)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "id": id})
}

// post, update and remove commit first and publish after; the response never
// depends on what subscribers do with the event.

func (s *Server) post(c echo.Context, a actor.Actor) (message.View, error) {
	req := bodyRequest{}
	if err := c.Bind(&req); err != nil {
		return message.View{}, badRequest("invalid request body")
	}
	att, err := s.upload(c)
	if err != nil {
		return message.View{}, err
	}
	ctx := c.Request().Context()
	m, err := s.messages.Send(ctx, a, req.Body, att)
	if err != nil {
		if att != nil {
			if derr := s.files.Delete(context.WithoutCancel(ctx), att.Path); derr != nil {
				zap.S().With("method", "post").Warn("drop attachment:", att.Path, derr)
			}
		}
		return message.View{}, err
	}
	v := s.format.View(m)
	s.events.Publish(ctx, bus.Event{Kind: bus.MessageCreated, MessageID: m.ID, Message: &v, Origin: a})
	return v, nil
}

func (s *Server) update(c echo.Context, a actor.Actor) (message.View, error) {
	id, err := pathID(c)
	if err != nil {
		return message.View{}, err
	}
	req := bodyRequest{}
	if err := c.Bind(&req); err != nil {
		return message.View{}, badRequest("invalid request body")
	}
	ctx := c.Request().Context()
	m, err := s.messages.Edit(ctx, id, a, req.Body)
	if err != nil {
		return message.View{}, err
	}
	v := s.format.View(m)
	s.events.Publish(ctx, bus.Event{Kind: bus.MessageEdited, MessageID: m.ID, Message: &v, Origin: a})
	return v, nil
}

func (s *Server) remove(c echo.Context, a actor.Actor) (int64, error) {
	id, err := pathID(c)
	if err != nil {
		return 0, err
	}
	ctx := c.Request().Context()
	if _, err := s.messages.SoftDelete(ctx, id, a); err != nil {
		return 0, err
	}
	s.events.Publish(ctx, bus.Event{Kind: bus.MessageDeleted, MessageID: id, Origin: a})
	return id, nil
}

// upload stores the optional "attachment" part of a multipart request.
func (s *Server) upload(c echo.Context) (*message.Attachment, error) {
	if s.files == nil || !strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return nil, nil
	}
	fh, err := c.FormFile("attachment")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, badRequest("invalid attachment")
	}
	return s.files.Save(c.Request().Context(), fh)
}

func (s *Server) download(c echo.Context) error {
	if _, err := s.actor(c); err != nil {
		return err
	}
	if s.files == nil {
		return echo.ErrNotFound
	}
	ctx := c.Request().Context()
	key := attachment.CleanKey(c.Param("*"))
	// only files of visible messages are served
	if _, err := s.messages.ByAttachment(ctx, key); err != nil {
		return err
	}
	r, err := s.files.Open(ctx, key)
	if err != nil {
		zap.S().With("method", "download").Debug(key, ": ", err)
		return err
	}
	defer r.Close()

	ct := r.ContentType()
	if ct == "" {
		ct = echo.MIMEOctetStream
	}
	h := c.Response().Header()
	h.Set("X-Content-Type-Options", "nosniff")
	if !strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "image/svg") {
		name := path.Base(key)
		if _, rest, ok := strings.Cut(name, "_"); ok && rest != "" {
			name = rest
		}
		h.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	}
	return c.Stream(http.StatusOK, ct, r)
}
