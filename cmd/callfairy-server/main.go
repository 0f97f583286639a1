// Command callfairy-server runs the CallFairy API and its maintenance tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/auth"
	"github.com/callfairy/callfairy/pkg/callfairy/config"
	"github.com/callfairy/callfairy/pkg/callfairy/database"
	"github.com/callfairy/callfairy/pkg/callfairy/logging"
	"github.com/callfairy/callfairy/pkg/callfairy/mailer"
	"github.com/callfairy/callfairy/pkg/callfairy/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// @title CallFairy API
// @version 1.0
// @description Organisations, agents and permissions for the CallFairy platform.
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token or API key. Format: "Bearer {token}"

type options struct {
	ConfigPath       string
	Migrate          bool
	SeedPermissions  bool
	Clear            bool
	CreateSuperAdmin bool
	Email            string
	Password         string
	Name             string
}

func (o options) anyTask() bool {
	return o.Migrate || o.SeedPermissions || o.CreateSuperAdmin
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("callfairy-server", pflag.ContinueOnError)
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to the YAML config file")
	fs.BoolVar(&opts.Migrate, "migrate", false, "Apply database migrations and exit")
	fs.BoolVar(&opts.SeedPermissions, "seed-permissions", false, "Upsert the default permission catalog and exit")
	fs.BoolVar(&opts.Clear, "clear", false, "With --seed-permissions, delete every permission first")
	fs.BoolVar(&opts.CreateSuperAdmin, "create-superadmin", false, "Create or promote a superadmin and exit")
	fs.StringVar(&opts.Email, "email", "", "Superadmin email")
	fs.StringVar(&opts.Password, "password", "", "Superadmin password")
	fs.StringVar(&opts.Name, "name", "", "Superadmin display name")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.CreateSuperAdmin && (opts.Email == "" || opts.Password == "") {
		return options{}, errors.New("--create-superadmin needs --email and --password")
	}
	return opts, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.App.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("callfairy-server stopped", zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log *zap.Logger) error {
	db, err := database.Connect(cfg.Database, cfg.App.Debug)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database migrations completed", zap.String("driver", cfg.Database.Driver))

	svc := access.NewService(db, log)

	if opts.anyTask() {
		return runTasks(ctx, db, svc, opts, log)
	}

	if _, err := svc.SeedPermissions(ctx, false); err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	if err := ensureSuperAdmin(ctx, db, svc, cfg.Bootstrap, log); err != nil {
		return fmt.Errorf("bootstrap superadmin: %w", err)
	}
	return serve(ctx, cfg, db, log)
}

// runTasks performs the maintenance flags. Migrations already ran.
func runTasks(ctx context.Context, db *gorm.DB, svc *access.Service, opts options, log *zap.Logger) error {
	if opts.SeedPermissions {
		res, err := svc.SeedPermissions(ctx, opts.Clear)
		if err != nil {
			return fmt.Errorf("seed permissions: %w", err)
		}
		log.Info("permission catalog seeded",
			zap.Int("created", res.Created), zap.Int("updated", res.Updated), zap.Int("removed", res.Removed))
	}
	if opts.CreateSuperAdmin {
		user, err := createSuperAdmin(ctx, db, svc, opts.Email, opts.Password, opts.Name)
		if err != nil {
			return err
		}
		log.Info("superadmin ready", zap.Uint("user_id", user.ID), zap.String("email", logging.MaskEmail(user.Email)))
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, db *gorm.DB, log *zap.Logger) error {
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	var google auth.GoogleVerifier
	if cfg.Google.ClientID != "" {
		google = auth.NewGoogleVerifier(cfg.Google.Issuer, cfg.Google.ClientID)
	}

	router := server.NewRouter(server.Deps{
		Config: cfg,
		DB:     db,
		Log:    log,
		Mailer: mailer.NewLogMailer(log.Named("mail")),
		Google: google,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting callfairy server", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
