package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nzlov/portalchat/message"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// listenRoom prints one line per room event until ctx ends or the server
// closes the connection.
func listenRoom(ctx context.Context, url, token string, out io.Writer) error {
	log := zap.S().With("method", "listen")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{"Authorization": {"Bearer " + token}})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()
	log.Info("connected to ", url)

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		f := frame{}
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn("read json:", err)
			continue
		}
		fmt.Fprintln(out, describe(f))
	}
}

func describe(f frame) string {
	switch f.Event {
	case "message-created", "message-edited":
		v := message.View{}
		if err := json.Unmarshal(f.Data, &v); err != nil {
			break
		}
		text := v.Body
		if v.Attachment != nil {
			text += " [" + v.Attachment.OriginalName + "]"
		}
		return fmt.Sprintf("%s #%d %s %s: %s", f.Event, v.ID, v.Time, v.ActorName, text)
	case "message-deleted":
		d := struct {
			ID int64 `json:"id"`
		}{}
		if err := json.Unmarshal(f.Data, &d); err == nil {
			return fmt.Sprintf("%s #%d", f.Event, d.ID)
		}
	}
	return f.Event + " " + string(f.Data)
}
