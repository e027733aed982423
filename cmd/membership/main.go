package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-membership/pkg/account"
	"github.com/tendant/simple-membership/pkg/docstore"
	"github.com/tendant/simple-membership/pkg/notice"
	"github.com/tendant/simple-membership/pkg/password"
	"github.com/tendant/simple-membership/pkg/role"
	"github.com/tendant/simple-membership/pkg/token"
)

type AppConfig struct {
	Addr string `env:"MEMBERSHIP_ADDR" env-default:":4000"`
}

type StoreConfig struct {
	Backend  string `env:"MEMBERSHIP_STORE" env-default:"inmem"`
	Host     string `env:"MEMBERSHIP_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"MEMBERSHIP_PG_PORT" env-default:"5432"`
	Database string `env:"MEMBERSHIP_PG_DATABASE" env-default:"membership_db"`
	User     string `env:"MEMBERSHIP_PG_USER" env-default:"membership"`
	Password string `env:"MEMBERSHIP_PG_PASSWORD" env-default:"pwd"`
}

func (c StoreConfig) connString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

type JwtConfig struct {
	Secret string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
}

type PasswordPolicyConfig struct {
	MinLength          int  `env:"PASSWORD_MIN_LENGTH" env-default:"8"`
	RequireUppercase   bool `env:"PASSWORD_REQUIRE_UPPERCASE" env-default:"false"`
	RequireLowercase   bool `env:"PASSWORD_REQUIRE_LOWERCASE" env-default:"false"`
	RequireDigit       bool `env:"PASSWORD_REQUIRE_DIGIT" env-default:"true"`
	RequireSpecialChar bool `env:"PASSWORD_REQUIRE_SPECIAL_CHAR" env-default:"false"`
}

type SMTPConfig struct {
	Enabled  bool   `env:"SMTP_ENABLED" env-default:"false"`
	Host     string `env:"SMTP_HOST" env-default:"localhost"`
	Port     int    `env:"SMTP_PORT" env-default:"587"`
	TLS      bool   `env:"SMTP_TLS" env-default:"true"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
}

type Config struct {
	AppConfig            AppConfig
	StoreConfig          StoreConfig
	JwtConfig            JwtConfig
	PasswordPolicyConfig PasswordPolicyConfig
	SMTPConfig           SMTPConfig
}

func main() {
	config := Config{}
	cleanenv.ReadEnv(&config)

	store, err := newStore(config.StoreConfig)
	if err != nil {
		slog.Error("Failed creating document store", "backend", config.StoreConfig.Backend, "err", err)
		os.Exit(-1)
	}

	policy := &password.Policy{
		MinLength:          config.PasswordPolicyConfig.MinLength,
		RequireUppercase:   config.PasswordPolicyConfig.RequireUppercase,
		RequireLowercase:   config.PasswordPolicyConfig.RequireLowercase,
		RequireDigit:       config.PasswordPolicyConfig.RequireDigit,
		RequireSpecialChar: config.PasswordPolicyConfig.RequireSpecialChar,
	}

	opts := []account.Option{
		account.WithPolicyChecker(password.NewDefaultPolicyChecker(policy)),
	}
	if config.SMTPConfig.Enabled {
		notifier, err := notice.NewEmailNotifier(notice.SMTPConfig{
			Host:     config.SMTPConfig.Host,
			Port:     config.SMTPConfig.Port,
			TLS:      config.SMTPConfig.TLS,
			Username: config.SMTPConfig.Username,
			Password: config.SMTPConfig.Password,
			From:     config.SMTPConfig.From,
		})
		if err != nil {
			slog.Error("Failed creating email notifier", "err", err)
			os.Exit(-1)
		}
		opts = append(opts, account.WithResetNotifier(notifier))
	}

	accountService := account.NewAccountService(store, password.NewPbkdf2Hasher(), opts...)
	roleService := role.NewRoleService(store)
	tokenService := token.NewService(config.JwtConfig.Secret)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})
	account.NewHandler(accountService, tokenService).RegisterRoutes(r)
	role.NewHandler(roleService).RegisterRoutes(r)

	server := &http.Server{Addr: config.AppConfig.Addr, Handler: r}

	go func() {
		slog.Info("Starting membership server", "addr", config.AppConfig.Addr, "store", config.StoreConfig.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "err", err)
			os.Exit(-1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Failed to shut down server", "err", err)
	}
}

func newStore(config StoreConfig) (docstore.Store, error) {
	switch config.Backend {
	case "inmem":
		return docstore.NewInMemStore(), nil
	case "postgres":
		pool, err := pgxpool.New(context.Background(), config.connString())
		if err != nil {
			return nil, err
		}
		return docstore.NewPostgresStore(pool), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", config.Backend)
}
