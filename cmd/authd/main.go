package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/akozyrev/taskdeck/internal/config"
	"github.com/akozyrev/taskdeck/internal/events"
	"github.com/akozyrev/taskdeck/internal/httpserver"
	"github.com/akozyrev/taskdeck/internal/mailer"
	"github.com/akozyrev/taskdeck/internal/metrics"
	appmw "github.com/akozyrev/taskdeck/internal/middleware"
	"github.com/akozyrev/taskdeck/internal/models"
	"github.com/akozyrev/taskdeck/internal/repo"
	"github.com/akozyrev/taskdeck/internal/service"
	"github.com/akozyrev/taskdeck/pkg/db"
	"github.com/akozyrev/taskdeck/pkg/logging"
	loggingmw "github.com/akozyrev/taskdeck/pkg/middleware/logging"
	"github.com/akozyrev/taskdeck/pkg/tokens"
)

func main() {
	cfg := config.Load()
	cfg.MustValidate()

	logger := logging.New(cfg.LogLevel)
	metrics.Init()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := gdb.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.LoginAttempt{},
		&models.OtpCode{},
		&models.ResetToken{},
	); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	codec, err := tokens.NewCodec(cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	repository := repo.New(gdb)

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.SecurityTopic)
		defer producer.Close()
		publisher = producer
	}

	smtpMailer, err := mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		log.Fatalf("mailer init error: %v", err)
	}

	throttle := service.NewLoginThrottle(repository)
	throttle.Window = cfg.ThrottleWindow
	throttle.Max = int64(cfg.ThrottleMax)

	sessions := service.NewSessionService(repository, codec, throttle, publisher)
	sessions.AccessTTL = cfg.AccessTTL
	sessions.RefreshTTL = cfg.RefreshTTL

	resetFlow := service.NewPasswordResetFlow(repository, sessions, smtpMailer, publisher, cfg.OtpSecret)

	limiter := appmw.NewRateLimiter(10, 20)
	defer limiter.Close()

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second
	e.Use(loggingmw.RequestLogger(logger))

	httpserver.Register(e, &httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{
			Sessions:      sessions,
			SecureCookies: cfg.IsProd(),
		},
		PasswordHandler: &httpserver.PasswordHTTP{Flow: resetFlow},
		Identity:        appmw.NewIdentityMiddleware(codec, repository),
		RateLimiter:     limiter,
	})

	go func() {
		if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("echo start: %v", err)
		}
	}()
	logger.Info("auth service started", "addr", cfg.ServerAddr, "env", cfg.Env)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("echo shutdown: %v", err)
	}
}
