package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nzlov/portalchat/message"
)

type result struct {
	OK      bool         `json:"ok"`
	Error   string       `json:"error"`
	Message message.View `json:"message"`
}

func postMessage(ctx context.Context, base, token, body string) (message.View, error) {
	data, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return message.View{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/chat/messages", bytes.NewReader(data))
	if err != nil {
		return message.View{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return message.View{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return message.View{}, err
	}
	r := result{}
	if err := json.Unmarshal(raw, &r); err != nil {
		return message.View{}, fmt.Errorf("%s: %w", resp.Status, err)
	}
	if !r.OK {
		return message.View{}, fmt.Errorf("%s: %s", resp.Status, r.Error)
	}
	return r.Message, nil
}
