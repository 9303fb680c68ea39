package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type VAPID struct {
	Subject    string
	PublicKey  string
	PrivateKey string
	TTL        int
	Timeout    time.Duration
}

func (v VAPID) Complete() bool {
	return v.PublicKey != "" && v.PrivateKey != ""
}

// WebPushSender delivers encrypted payloads to browser push services.
type WebPushSender struct {
	opts webpush.Options
}

func NewWebPushSender(v VAPID) *WebPushSender {
	if v.TTL <= 0 {
		v.TTL = 60
	}
	if v.Timeout <= 0 {
		v.Timeout = 10 * time.Second
	}
	return &WebPushSender{opts: webpush.Options{
		Subscriber:      v.Subject,
		VAPIDPublicKey:  v.PublicKey,
		VAPIDPrivateKey: v.PrivateKey,
		TTL:             v.TTL,
		Urgency:         webpush.UrgencyNormal,
		HTTPClient:      &http.Client{Timeout: v.Timeout},
	}}
}

func (s *WebPushSender) Send(ctx context.Context, sub Subscription, payload []byte) error {
	opts := s.opts
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%s: %w", resp.Status, ErrGone)
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service: %s", resp.Status)
	}
	return nil
}
