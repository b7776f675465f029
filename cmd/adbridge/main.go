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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/adbridge/internal/adapters/connections"
	"github.com/dropDatabas3/adbridge/internal/adapters/googleads"
	"github.com/dropDatabas3/adbridge/internal/config"
	"github.com/dropDatabas3/adbridge/internal/connection"
	"github.com/dropDatabas3/adbridge/internal/httpapi"
	"github.com/dropDatabas3/adbridge/internal/kv"
	"github.com/dropDatabas3/adbridge/internal/mcp"
	"github.com/dropDatabas3/adbridge/internal/metrics"
	"github.com/dropDatabas3/adbridge/internal/oauth"
	"github.com/dropDatabas3/adbridge/internal/observability/logger"
	"github.com/dropDatabas3/adbridge/internal/sanitize"
	"github.com/dropDatabas3/adbridge/internal/security/secretbox"
	"github.com/dropDatabas3/adbridge/internal/stdio"
	"github.com/dropDatabas3/adbridge/internal/tokenstore"
)

const version = "1.0.0"

// layeredCreds prioriza las credenciales del YAML y cae a las env vars
// <PLATFORM>_CLIENT_ID / _CLIENT_SECRET / _REDIRECT_URI.
type layeredCreds struct {
	static oauth.StaticCredentials
	env    oauth.EnvCredentials
}

func (l layeredCreds) Lookup(platform string) (oauth.Credentials, error) {
	if c, err := l.static.Lookup(platform); err == nil && c.ClientID != "" {
		return c, nil
	}
	return l.env.Lookup(platform)
}

func buildCipher(cfg *config.Config) (*secretbox.Cipher, error) {
	if cfg.Security.MasterKey != "" {
		key, err := secretbox.DecodeKey(cfg.Security.MasterKey)
		if err != nil {
			return nil, err
		}
		return secretbox.New(key)
	}

	cipher, err := secretbox.NewFromEnv()
	if errors.Is(err, secretbox.ErrEphemeralKey) {
		logger.L().Warn("sin master key configurada: los tokens cifrados no sobreviven restarts",
			logger.Key(secretbox.EnvMasterKey))
		return cipher, nil
	}
	return cipher, err
}

func buildServer(ctx context.Context, cfg *config.Config) (*mcp.Server, *connection.Manager, func(), error) {
	client, err := kv.New(ctx, cfg.KV)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("kv: %w", err)
	}
	cleanup := func() { _ = client.Close() }

	cipher, err := buildCipher(cfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("cipher: %w", err)
	}

	creds := layeredCreds{static: oauth.StaticCredentials{}, env: oauth.EnvCredentials{}}
	for name, p := range cfg.OAuth.Providers {
		creds.static[name] = oauth.Credentials{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURI:  p.RedirectURI,
		}
	}

	store := tokenstore.New(client, cipher)
	flow := oauth.NewFlow(creds)
	mgr := connection.NewManager(store, flow, client,
		connection.WithStateTTL(cfg.OAuth.StateTTL))

	errlog := sanitize.NewAPIErrorLog(cfg.ErrorLog.Capacity)

	srv := mcp.NewServer("adbridge", version)
	connections.NewService(mgr).Register(srv)

	gaOpts := []googleads.ServiceOption{googleads.WithServiceErrorLog(errlog)}
	if cfg.GoogleAds.DeveloperToken != "" {
		gaOpts = append(gaOpts, googleads.WithDeveloperToken(cfg.GoogleAds.DeveloperToken))
	}
	if cfg.GoogleAds.LoginCustomerID != "" {
		gaOpts = append(gaOpts, googleads.WithClientOptions(
			googleads.WithLoginCustomer(cfg.GoogleAds.LoginCustomerID)))
	}
	googleads.NewService(mgr, gaOpts...).Register(srv)

	if err := metrics.Register(nil); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("metrics: %w", err)
	}
	return srv, mgr, cleanup, nil
}

func runHTTP(ctx context.Context, cfg *config.Config) error {
	srv, mgr, cleanup, err := buildServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.Handler(httpapi.Deps{Server: srv, Manager: mgr}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("http server escuchando", logger.String("addr", cfg.Server.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.L().Info("apagando http server")
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func runStdio(ctx context.Context, cfg *config.Config) error {
	srv, _, cleanup, err := buildServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return stdio.Run(ctx, srv, os.Stdin, os.Stdout)
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "aviso: .env no cargado: %v\n", err)
	}

	var (
		configPath string
		transport  string
		addr       string
	)

	root := &cobra.Command{
		Use:     "adbridge",
		Short:   "Puente OAuth y de datos hacia plataformas de advertising",
		Version: version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor (transporte http o stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			switch transport {
			case "http":
				return runHTTP(ctx, cfg)
			case "stdio":
				return runStdio(ctx, cfg)
			default:
				return fmt.Errorf("transporte desconocido: %q (http|stdio)", transport)
			}
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "", "ruta a config.yaml (opcional, env-only si falta)")
	serveCmd.Flags().StringVar(&transport, "transport", "http", "transporte: http|stdio")
	serveCmd.Flags().StringVar(&addr, "addr", "", "dirección de escucha (pisa server.addr)")

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Genera una master key nueva para cifrar tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secretbox.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Printf("%s=%s\n", secretbox.EnvMasterKey, key)
			return nil
		},
	}

	root.AddCommand(serveCmd, keygenCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
