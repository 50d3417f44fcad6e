package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tenantrag/internal/app"
	"tenantrag/internal/config"
	"tenantrag/internal/domain"
	"tenantrag/internal/logging"
	"tenantrag/internal/service"
)

// tenantEnv stands in for the authenticated caller when --tenant is absent.
const tenantEnv = "TENANTRAG_TENANT"

type cli struct {
	cfgPath  string
	tenant   string
	logLevel string

	cfg    *config.AppConfig
	logger *zap.Logger
	app    *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "rag",
		Short:         "Tenant-isolated document question answering",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.teardown()
		},
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "path to YAML config (default ./config.yaml or ~/.config/tenantrag/config.yaml)")
	root.PersistentFlags().StringVar(&c.tenant, "tenant", "", "tenant id of the caller (or $"+tenantEnv+")")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		c.ingestCmd(),
		c.askCmd(),
		c.searchCmd(),
		c.infoCmd(),
		c.deleteCmd(),
		c.removeDocCmd(),
		c.chatCmd(),
	)
	return root
}

func (c *cli) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	if c.cfgPath == "" {
		c.cfg, _, err = config.LoadDefault()
	} else {
		c.cfg, err = config.Load(c.cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.logLevel != "" {
		c.cfg.Log.Level = c.logLevel
	}
	if c.logger, err = logging.New(c.cfg.Log); err != nil {
		return err
	}
	if c.app, err = app.Build(ctx, c.cfg, c.logger); err != nil {
		return err
	}
	return nil
}

func (c *cli) teardown() error {
	var err error
	if c.app != nil {
		err = c.app.Close()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return err
}

// pipeline returns the pipeline of the calling tenant.
func (c *cli) pipeline() (*service.Pipeline, error) {
	raw := c.tenant
	if raw == "" {
		raw = os.Getenv(tenantEnv)
	}
	tenant, err := domain.ParseTenantID(raw)
	if err != nil {
		return nil, fmt.Errorf("%w (set --tenant or $%s)", err, tenantEnv)
	}
	return c.app.Pipeline(tenant)
}
