package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	_ "net/http/pprof"
)

func newLogger(c LogConfig) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}
	}

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	opts := []zap.Option{zap.AddCaller()}
	if c.Dev {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		opts = append(opts, zap.Development())
	}

	out := zapcore.Lock(os.Stdout)
	if c.File != "" {
		out = zapcore.NewMultiWriteSyncer(out, zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   c.Compress,
		}))
	}
	return zap.New(zapcore.NewCore(encoder, out, level), opts...)
}

func main() {
	log, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(log)
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.AddConfigPath("./")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults()
	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Sugar().Fatal("init config error:", err)
		}
		log.Sugar().Warn("no config file, using defaults and env")
	}

	err = viper.Unmarshal(&DefConfig)
	if err != nil {
		log.Sugar().Fatal("init config unmarshal error:", err)
	}
	if DefConfig.Session.Secret == "" {
		log.Sugar().Fatal("session.secret is required")
	}

	log = newLogger(DefConfig.Log)
	zap.ReplaceGlobals(log)
	defer log.Sync()

	if DefConfig.PprofHost != "" {
		go func() {
			log.Sugar().Info("pprof:", DefConfig.PprofHost)
			http.ListenAndServe(DefConfig.PprofHost, nil)
		}()
	}

	node, err := newNode(context.Background(), DefConfig)
	if err != nil {
		log.Sugar().Fatal("init node:", err)
	}
	defer node.Close()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := node.Shutdown(ctx); err != nil {
			log.Sugar().Error("shutdown:", err)
		}
	}()

	log.Sugar().Info("Start:", DefConfig.Host)
	err = node.Run(DefConfig.Host)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Sugar().Fatal("ListenAndServe: ", err)
	}
	log.Sugar().Info("close")
}
