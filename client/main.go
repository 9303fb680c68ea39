// Command client talks to a running chat server: it prints live room events
// or posts a message.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nzlov/portalchat/actor"
	"github.com/nzlov/portalchat/session"
)

var (
	addr   = flag.String("addr", "localhost:8080", "http service address")
	token  = flag.String("token", "", "session token")
	secret = flag.String("secret", "", "session secret, signs a token for -as when -token is empty")
	as     = flag.String("as", "", "identity to sign for. ex: \"student:7\" or \"admin:1,staff:2\"")
	listen = flag.Bool("listen", false, "print live room events")
	send   = flag.String("send", "", "message to post")
)

// parseSession reads "kind:id" pairs.
func parseSession(s string) (actor.Session, error) {
	out := actor.Session{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, raw, ok := strings.Cut(part, ":")
		if !ok {
			return out, fmt.Errorf("bad identity %q", part)
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return out, fmt.Errorf("bad identity %q: %w", part, err)
		}
		switch actor.Kind(kind) {
		case actor.KindAdmin:
			out.AdminID = &id
		case actor.KindStaff:
			out.StaffID = &id
		case actor.KindStudent:
			out.StudentID = &id
		default:
			return out, fmt.Errorf("bad identity kind %q", kind)
		}
	}
	if out.Empty() {
		return out, fmt.Errorf("no identity")
	}
	return out, nil
}

func resolveToken() (string, error) {
	if *token != "" {
		return *token, nil
	}
	if *secret == "" {
		return "", fmt.Errorf("-token or -secret is required")
	}
	s, err := parseSession(*as)
	if err != nil {
		return "", err
	}
	return session.Sign(*secret, s, time.Hour)
}

func main() {
	flag.Parse()
	log, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(log)
	defer log.Sync()

	tk, err := resolveToken()
	if err != nil {
		log.Sugar().Fatal(err)
	}
	if !*listen && *send == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	base := "http://" + *addr
	if *send != "" {
		v, err := postMessage(ctx, base, tk, *send)
		if err != nil {
			log.Sugar().Fatal("send:", err)
		}
		log.Sugar().Info("sent:", v.ID, " ", v.Body)
	}
	if *listen {
		if err := listenRoom(ctx, "ws://"+*addr+"/ws", tk, os.Stdout); err != nil {
			log.Sugar().Fatal("listen:", err)
		}
	}
}
