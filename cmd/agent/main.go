package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hara602/treeSentry/internal/analysis"
	"github.com/Hara602/treeSentry/internal/config"
	"github.com/Hara602/treeSentry/internal/journal"
	"github.com/Hara602/treeSentry/internal/monitor"
	"github.com/Hara602/treeSentry/internal/sysutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// 进程退出码
const (
	exitOK       = 0
	exitConfig   = 1
	exitInit     = 2
	exitWait     = 3
	exitDispatch = 4
)

type flags struct {
	config   string
	timeout  time.Duration
	logLevel string
	journal  string
	sniff    bool
}

func main() {
	code := exitOK
	cmd := newRootCommand(&code)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if code == exitOK {
			code = exitConfig
		}
	}
	os.Exit(code)
}

func newRootCommand(code *int) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "agent [root]",
		Short: "Recursively watch a directory tree and log every change",
		Long: "agent watches a directory and all of its subdirectories with inotify and\n" +
			"prints one line per created, removed or modified file or directory.\n" +
			"Interrupt with Ctrl+C (SIGINT) or SIGTERM.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f, args)
			if err != nil {
				*code = exitConfig
				return err
			}
			*code, err = run(cfg)
			return err
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "YAML config file")
	cmd.Flags().DurationVar(&f.timeout, "timeout", time.Second, "poll timeout, bounds how long a stop request may take")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	cmd.Flags().StringVar(&f.journal, "journal", "", "record events into this sqlite database")
	cmd.Flags().BoolVar(&f.sniff, "sniff", false, "detect the content type of modified files")
	return cmd
}

// resolveConfig 只有显式给出的参数才覆盖配置文件
func resolveConfig(cmd *cobra.Command, f flags, args []string) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, err
	}
	if len(args) == 1 {
		cfg.Root = args[0]
	}
	set := cmd.Flags().Changed
	if set("timeout") {
		cfg.PollTimeout = f.timeout
	}
	if set("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if set("journal") {
		cfg.Journal = f.journal
	}
	if set("sniff") {
		cfg.Sniff = f.sniff
	}
	return cfg, cfg.Validate()
}

func run(cfg config.Config) (int, error) {
	level, _ := cfg.Level()
	sysutil.InitLogger(level)
	defer sysutil.Log.Sync()

	sysutil.Log.Info("🛡️ Tree Sentry Agent Starting...", zap.String("root", cfg.Root))
	sysutil.CheckMount(sysutil.Log, cfg.Root)

	opts := []monitor.Option{
		monitor.WithLogger(sysutil.Log),
		monitor.WithPollTimeout(cfg.PollTimeout),
	}
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal, sysutil.Log)
		if err != nil {
			sysutil.Log.Error("Journal init failed", zap.Error(err))
			return exitInit, err
		}
		defer j.Close()
		sysutil.Log.Info("📒 Journal enabled", zap.String("db", cfg.Journal), zap.String("run", j.RunID()))
		opts = append(opts, monitor.WithSink(j))
	}
	if cfg.Sniff {
		opts = append(opts, monitor.WithAnnotator(analysis.NewTypeInspector(sysutil.Log)))
	}

	mgr, err := monitor.New(cfg.Root, opts...)
	if err != nil {
		sysutil.Log.Error("Monitor init failed", zap.Error(err))
		return exitInit, err
	}
	defer mgr.Close()

	// 捕获操作系统信号，请求运行循环停止
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go stopOnSignal(sigCh, done, mgr)

	err = mgr.Run()
	return exitCode(err), err
}

type stopper interface {
	Stop()
}

// stopOnSignal 收到信号时请求停止；run 返回后 done 关闭，goroutine 随之退出
func stopOnSignal(sigCh <-chan os.Signal, done <-chan struct{}, s stopper) {
	select {
	case <-sigCh:
		sysutil.Log.Info("Shutting down...")
		s.Stop()
	case <-done:
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, monitor.ErrWaitFailed):
		return exitWait
	case errors.Is(err, monitor.ErrDispatchFailed):
		return exitDispatch
	}
	return exitInit
}
