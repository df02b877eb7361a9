package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/skein/internal/config"
	"github.com/agentic-research/skein/internal/ingest"
	"github.com/agentic-research/skein/internal/logging"
	"github.com/agentic-research/skein/internal/model"
	"github.com/agentic-research/skein/internal/workspace"
)

var (
	configPath  string
	projectArgs []string
	modulePath  string
	verbosity   int
	quiet       bool
	logLevel    string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to an HCL config file")
	pf.StringArrayVarP(&projectArgs, "project", "p", nil, "Project as name=dir (repeatable); defaults to the current directory")
	pf.StringVar(&modulePath, "module", "", "Go module path handed to the formatter")
	pf.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Suppress all logging")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides -v and the config")
}

var rootCmd = &cobra.Command{
	Use:           "skein",
	Short:         "Skein: a live structural model of source trees",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file and --project flags. With no project
// anywhere, the current directory becomes one.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
		for i, p := range cfg.Projects {
			if cfg.Projects[i].Path, err = filepath.Abs(p.Path); err != nil {
				return nil, fmt.Errorf("project %s: %w", p.Name, err)
			}
		}
	}
	for _, arg := range projectArgs {
		name, dir, ok := strings.Cut(arg, "=")
		if !ok {
			dir = name
			name = filepath.Base(filepath.Clean(dir))
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", name, err)
		}
		cfg.AddProject(name, abs)
	}
	if len(cfg.Projects) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working dir: %w", err)
		}
		cfg.AddProject(filepath.Base(wd), wd)
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := logging.LevelFromVerbosity(verbosity, quiet)
	switch {
	case logLevel != "":
		level = logging.LevelFromString(logLevel)
	case verbosity == 0 && !quiet && configPath != "":
		level = logging.LevelFromString(cfg.LogLevel)
	}
	return logging.New(os.Stderr, level)
}

// session bundles what most commands need.
type session struct {
	cfg *config.Config
	log *slog.Logger
	ws  *workspace.Workspace
	reg *ingest.Registry
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)
	reg := ingest.DefaultRegistry()
	ws, err := workspace.New(ctx, cfg, workspace.Options{Logger: log, Registry: reg, ModulePath: modulePath})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, ws: ws, reg: reg}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.ws.Shutdown(ctx); err != nil {
		s.log.Warn("shutdown", "error", err)
	}
}

// resolve maps a path on disk to the handle of the project element stored
// there: a project, a package or a file.
func (s *session) resolve(ctx context.Context, target string) (model.Handle, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return model.Handle{}, err
	}
	var best config.Project
	for _, p := range s.cfg.Projects {
		if (abs == p.Path || strings.HasPrefix(abs, p.Path+string(filepath.Separator))) && len(p.Path) > len(best.Path) {
			best = p
		}
	}
	if best.Name == "" {
		return model.Handle{}, fmt.Errorf("%s is outside every project", target)
	}
	project := model.Root().Child(model.KindProject, best.Name)
	rel, err := filepath.Rel(best.Path, abs)
	if err != nil {
		return model.Handle{}, err
	}
	if rel == "." {
		return project, nil
	}
	rel = filepath.ToSlash(rel)
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		pkg := project.Child(model.KindPackage, rel)
		if !s.ws.Exists(ctx, pkg) {
			return model.Handle{}, model.NewError(model.NotPresent, "resolve", pkg, nil)
		}
		return pkg, nil
	}
	return s.ws.Locate(ctx, best.Name, rel)
}
