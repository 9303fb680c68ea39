package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nzlov/portalchat/actor"
	"github.com/nzlov/portalchat/api"
	"github.com/nzlov/portalchat/attachment"
	"github.com/nzlov/portalchat/bus"
	"github.com/nzlov/portalchat/message"
	"github.com/nzlov/portalchat/push"
	"github.com/nzlov/portalchat/room"
)

// Node owns every long-lived resource of the process.
type Node struct {
	db  *gorm.DB
	rdb *redis.Client

	files *attachment.Store
	hub   *room.Hub
	queue *push.RedisQueue
	push  *push.Dispatcher

	echo *echo.Echo

	cancel context.CancelFunc
	done   chan struct{}
}

func openDB(c DBConfig) (*gorm.DB, error) {
	loglevel := logger.Error
	if c.Log {
		loglevel = logger.Info
	}
	cfg := &gorm.Config{
		CreateBatchSize: 10,
		Logger: logger.New(zap.NewStdLog(zap.L()), logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      loglevel,
		}),
	}
	switch strings.ToLower(c.Driver) {
	case "", "postgres":
		return gorm.Open(postgres.Open(c.DSN), cfg)
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(c.DSN), cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	return nil, fmt.Errorf("unknown db driver %q", c.Driver)
}

func vapidConfig(c PushConfig) push.VAPID {
	return push.VAPID{
		Subject:    c.Subject,
		PublicKey:  c.VAPIDPublicKey,
		PrivateKey: c.VAPIDPrivateKey,
		TTL:        c.TTL,
		Timeout:    c.Timeout,
	}
}

// newNode wires every component. On error whatever was already opened is
// closed again.
func newNode(ctx context.Context, cfg Config) (_ *Node, err error) {
	log := zap.S().With("method", "newNode")

	db, err := openDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	n := &Node{db: db, done: make(chan struct{})}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	for _, migrate := range []func(*gorm.DB) error{actor.AutoMigrate, message.AutoMigrate, push.AutoMigrate} {
		if err := migrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	loc := time.Local
	if cfg.Chat.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Chat.Timezone); err != nil {
			return nil, fmt.Errorf("chat timezone: %w", err)
		}
	}

	n.files, err = attachment.Open(ctx, attachment.Config{
		Bucket:   cfg.Attachment.Bucket,
		Dir:      cfg.Attachment.Dir,
		MaxBytes: cfg.Attachment.MaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("attachments: %w", err)
	}

	n.hub = room.NewHub(room.Config{
		ReadMessageSizeLimit: cfg.Client.ReadMessageSizeLimit,
		Compression:          cfg.Client.Compression,
		CompressionLevel:     cfg.Client.CompressionLevel,
		ReadBufferSize:       cfg.Client.ReadBufferSize,
		WriteBufferSize:      cfg.Client.WriteBufferSize,
		SendBuffer:           cfg.Client.SendBuffer,
		AllowedOrigins:       cfg.Client.AllowedOrigins,
	})

	vapid := vapidConfig(cfg.Push)
	var sender push.Sender
	if vapid.Complete() {
		sender = push.NewWebPushSender(vapid)
	} else {
		log.Warn("push disabled: no vapid keys")
	}
	registry := push.NewRegistry(db, nil)
	n.push = push.NewDispatcher(registry, sender)

	var queue push.Queue
	switch cfg.Push.Queue {
	case "", "inline":
	case "redis":
		n.rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Host,
			DialTimeout:  10 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			PoolSize:     10,
			PoolTimeout:  30 * time.Second,
		})
		if err := n.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		n.queue = push.NewRedisQueue(n.rdb, cfg.Redis.QueueKey)
		queue = n.queue
		log.Info("push queue: redis ", cfg.Redis.QueueKey)
	default:
		return nil, fmt.Errorf("unknown push queue %q", cfg.Push.Queue)
	}

	events := bus.New()
	events.Subscribe("room", n.hub.Handle)
	events.Subscribe("push", push.NewNotifier(n.push, queue, cfg.Push.URL, cfg.Push.Timeout).Handle)

	policy := actor.Policy{ModeratorRoles: cfg.Chat.ModeratorRoles}
	srv := api.New(
		api.Config{
			SessionSecret:  cfg.Session.Secret,
			SessionCookie:  cfg.Session.Cookie,
			DefaultLimit:   cfg.Chat.DefaultLimit,
			VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
			ChatPath:       cfg.Chat.Path,
			LoginPaths: map[actor.Kind]string{
				actor.KindAdmin:   cfg.Chat.AdminLogin,
				actor.KindStaff:   cfg.Chat.StaffLogin,
				actor.KindStudent: cfg.Chat.StudentLogin,
			},
		},
		actor.NewResolver(actor.NewDBDirectory(db), cfg.Chat.StaffMarker, cfg.Chat.AdminMarker),
		message.NewStore(db, policy),
		message.NewFormatter(loc, api.AttachmentPrefix, nil),
		n.files,
		events,
		n.hub,
		registry,
	)
	n.echo = srv.Echo()
	return n, nil
}

// Run starts background workers and serves HTTP until the server stops.
func (n *Node) Run(host string) error {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go func() {
		defer close(n.done)
		if n.queue != nil {
			n.queue.Run(ctx, n.push)
		}
	}()
	return n.echo.Start(host)
}

func (n *Node) Shutdown(ctx context.Context) error {
	return n.echo.Shutdown(ctx)
}

func (n *Node) Close() {
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}
	if n.hub != nil {
		n.hub.Close()
	}
	if n.files != nil {
		n.files.Close()
	}
	if n.rdb != nil {
		n.rdb.Close()
	}
	if db, err := n.db.DB(); err == nil {
		db.Close()
	}
}
