package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/caid-tools/depi/internal/audit"
	"github.com/caid-tools/depi/internal/authz"
	"github.com/caid-tools/depi/internal/blackboard"
	"github.com/caid-tools/depi/internal/branchstore"
	"github.com/caid-tools/depi/internal/branchstore/postgres"
	"github.com/caid-tools/depi/internal/branchstore/snapshot"
	"github.com/caid-tools/depi/internal/config"
	depierrors "github.com/caid-tools/depi/internal/grpc/errors"
	"github.com/caid-tools/depi/internal/grpc/logging"
	"github.com/caid-tools/depi/internal/grpc/recovery"
	"github.com/caid-tools/depi/internal/rpcapi"
	"github.com/caid-tools/depi/internal/rpcserver"
	"github.com/caid-tools/depi/internal/session"
	"github.com/caid-tools/depi/internal/tracing"
)

func mustStringFlag(flags *pflag.FlagSet, name string) string {
	v, err := flags.GetString(name)
	if err != nil {
		panic(err)
	}
	return v
}

func serve() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the Depi gRPC service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: false,
			}))
			slog.SetDefault(logger)

			if err := tracing.Configure(cmd.Context(), resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String("depi"),
			)); err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}

			cfg, err := config.Load(mustStringFlag(cmd.Flags(), "config"))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			catalog, closeDB, err := buildCatalog(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize storage backend: %w", err)
			}
			if closeDB != nil {
				defer closeDB()
			}

			boards := blackboard.NewStore()

			verify := func(user, password string) bool {
				for _, u := range cfg.Users {
					if u.Name == user {
						return u.Password == password
					}
				}
				return false
			}
			sessions := session.NewManager(verify, cfg.Server.SessionTimeout())
			go sessions.RunSweeper(ctx)
			defer sessions.Stop()

			az := authz.NewEvaluator(cfg.Server.AuthorizationEnabled)
			if err := loadUserCapabilities(az, cfg); err != nil {
				return fmt.Errorf("failed to load authorization rules: %w", err)
			}

			var auditLogger *audit.Logger
			if cfg.Audit.Directory != "" {
				auditLogger, err = audit.NewLogger(cfg.Audit.Directory)
				if err != nil {
					return fmt.Errorf("failed to open audit log: %w", err)
				}
				defer auditLogger.Close()
			}

			srv := rpcserver.New(catalog, boards, sessions, az, cfg.PathSeparators(), auditLogger)

			grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
			if err != nil {
				return err
			}

			grpcServerOptions := []grpc.ServerOption{
				grpc.ChainUnaryInterceptor(
					depierrors.InternalErrorsInterceptor(slog.Default()),
					recovery.UnaryServerInterceptor(),
					logging.UnaryServerInterceptor(slog.Default()),
				),
				grpc.ChainStreamInterceptor(
					recovery.StreamServerInterceptor(),
					logging.StreamServerInterceptor(slog.Default()),
				),
				grpc.StatsHandler(otelgrpc.NewServerHandler()),
				grpc.ForceServerCodec(rpcapi.Codec()),
			}

			tlsCertFile := cfg.Server.TLSCertFile
			tlsKeyFile := cfg.Server.TLSKeyFile
			if tlsCertFile != "" && tlsKeyFile != "" {
				creds, err := credentials.NewServerTLSFromFile(tlsCertFile, tlsKeyFile)
				if err != nil {
					return fmt.Errorf("failed to load gRPC TLS credentials: %w", err)
				}
				grpcServerOptions = append(grpcServerOptions, grpc.Creds(creds))
				slog.InfoContext(ctx, "gRPC server will use TLS")
			} else {
				slog.InfoContext(ctx, "gRPC server will not use TLS (no cert/key configured)")
			}

			grpcServer := grpc.NewServer(grpcServerOptions...)
			rpcapi.RegisterServer(grpcServer, srv)

			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			metricsSrv := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
				Handler: metricsMux,
			}

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				slog.InfoContext(ctx, "starting gRPC server", slog.String("address", grpcListener.Addr().String()))
				return grpcServer.Serve(grpcListener)
			})
			group.Go(func() error {
				slog.InfoContext(ctx, "starting metrics server", slog.String("address", metricsSrv.Addr))
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			group.Go(func() error {
				<-groupCtx.Done()
				grpcServer.GracefulStop()
				return metricsSrv.Close()
			})

			return group.Wait()
		},
	}

	cmd.Flags().String("config", "depi.json", "Path to the Depi JSON configuration document")

	return cmd
}

// buildCatalog constructs the branch/tag catalog over whichever backend
// cfg.DB.Type selects, and returns a cleanup func for the underlying
// connection (nil for the snapshot backend).
func buildCatalog(ctx context.Context, cfg *config.Config) (*branchstore.Catalog, func(), error) {
	seps := cfg.PathSeparators()

	switch cfg.DB.Type {
	case config.DBTypeDolt:
		db, err := sql.Open("postgres", cfg.DB.DataSource)
		if err != nil {
			return nil, nil, err
		}
		db = sqldblogger.OpenDriver(cfg.DB.DataSource, db.Driver(), loggerFunc(func(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
			slog.DebugContext(ctx, msg, slog.Any("data", data))
		}))

		store := postgres.New(db, seps)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := store.InitMain(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		catalog := branchstore.NewCatalog(postgres.CatalogBackend{Store: store})
		return catalog, func() { db.Close() }, nil

	default:
		store, err := snapshot.New(cfg.DB.StateDir, seps)
		if err != nil {
			return nil, nil, err
		}
		if err := store.InitMain(); err != nil {
			return nil, nil, err
		}
		catalog := branchstore.NewCatalog(snapshot.CatalogBackend{Store: store})
		return catalog, nil, nil
	}
}

// authRule is the JSON shape one of a user's auth_rules entries takes;
// the enclosing syntax (grouping, inheritance) is out of scope (spec §1).
type authRule struct {
	Class string   `json:"class"`
	Args  []string `json:"args"`
}

func loadUserCapabilities(az *authz.Evaluator, cfg *config.Config) error {
	for _, u := range cfg.Users {
		instances := make([]authz.CapabilityInstance, 0, len(u.AuthRules))
		for _, raw := range u.AuthRules {
			var rule authRule
			if err := json.Unmarshal(raw, &rule); err != nil {
				return fmt.Errorf("user %s: invalid auth rule: %w", u.Name, err)
			}
			instances = append(instances, authz.CapabilityInstance{
				Class: authz.CapabilityClass(rule.Class),
				Args:  rule.Args,
			})
		}
		az.SetUserCapabilities(u.Name, instances)
	}
	return nil
}

type loggerFunc func(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{})

func (l loggerFunc) Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	l(ctx, level, msg, data)
}
