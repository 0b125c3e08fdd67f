package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"intake-agent/internal/config"
	"intake-agent/internal/httpapi"
	"intake-agent/internal/integrations/analysis"
	"intake-agent/internal/integrations/openai"
	"intake-agent/internal/integrations/paramstore"
	"intake-agent/internal/report"
	"intake-agent/internal/repository"
	"intake-agent/internal/usecase"
	logx "intake-agent/pkg/logger"
)

// App is the wired service graph shared by the server and Lambda entry points.
type App struct {
	Router  http.Handler
	Service *usecase.IntakeService

	closers []func() error
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{}

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}

	analyzer, index, err := buildAnalyzer(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	store, err := a.buildStore(ctx, cfg, awsCfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	svc, err := usecase.NewIntakeService(analyzer, store)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("app: create intake service: %w", err)
	}

	opts := []httpapi.Option{httpapi.WithReporter(report.NewRenderer(cfg.Report.FontPath))}
	if index != nil {
		opts = append(opts, httpapi.WithIndexChecker(index))
	}
	h, err := httpapi.NewHandler(svc, opts...)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("app: create http handler: %w", err)
	}

	a.Service = svc
	a.Router = h.Router()
	logx.Info().
		Str("analysis", cfg.Analysis.Backend).
		Str("store", cfg.Store.Backend).
		Str("environment", string(cfg.Env())).
		Msg("app wired")
	return a, nil
}

func buildAnalyzer(cfg config.Config, awsCfg aws.Config) (usecase.Analyzer, httpapi.IndexChecker, error) {
	switch cfg.Analysis.Backend {
	case config.AnalysisBackendOpenAI:
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithCacheTTL(cfg.OpenAI.TokenCacheTTL))
		if err != nil {
			return nil, nil, fmt.Errorf("app: create parameter store client: %w", err)
		}
		opts := []openai.Option{openai.WithModel(cfg.OpenAI.Model)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if cfg.Analysis.Timeout > 0 {
			opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: cfg.Analysis.Timeout}))
		}
		a, err := openai.NewAnalyzer(ps, cfg.OpenAI.ParamPrefix, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create openai analyzer: %w", err)
		}
		return a, nil, nil
	default:
		var opts []analysis.Option
		if cfg.Analysis.Timeout > 0 {
			opts = append(opts, analysis.WithHTTPClient(&http.Client{Timeout: cfg.Analysis.Timeout}))
		}
		c, err := analysis.NewClient(cfg.Analysis.BaseURL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create analysis client: %w", err)
		}
		return c, c, nil
	}
}

func (a *App) buildStore(ctx context.Context, cfg config.Config, awsCfg aws.Config) (usecase.SessionStore, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendDynamoDB:
		s, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.Store.Table, repository.WithTTL(cfg.Store.TTL))
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return s, nil

	case config.StoreBackendRedis:
		client, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: connect redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		s, err := repository.NewRedisStore(client, cfg.Store.TTL)
		if err != nil {
			return nil, fmt.Errorf("app: create redis store: %w", err)
		}
		return s, nil

	case config.StoreBackendPostgres:
		db, err := repository.OpenPostgres(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if cfg.Postgres.Migrate {
			if err := repository.MigratePostgres(db); err != nil {
				return nil, fmt.Errorf("app: %w", err)
			}
		}
		s, err := repository.NewPostgresStore(db)
		if err != nil {
			return nil, fmt.Errorf("app: create postgres store: %w", err)
		}
		return s, nil

	default:
		logx.Warn().Msg("app: using in-memory session store; sessions are lost on restart")
		return repository.NewMemoryStore(), nil
	}
}
