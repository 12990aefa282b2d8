package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gnuos/daemon"
	"github.com/spf13/cobra"

	"taskmaster/pkg/config"
	"taskmaster/pkg/history"
	"taskmaster/pkg/logger"
	"taskmaster/pkg/shell"
	"taskmaster/pkg/supervisor"
	"taskmaster/pkg/utils"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor",
	Run:   execRunCmd,

	SilenceUsage: true,
}

func init() {
	runCmd.Flags().BoolVarP(&config.ForegroundFlag, "foreground", "f", true, "Serve the interactive shell on stdin")
	runCmd.Flags().BoolVarP(&daemonizeFlag, "daemonize", "d", false, "Detach and run in the background, driven by signals only")

	runCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		execRunPersistentPreRun()
	}

	rootCmd.AddCommand(runCmd)
}

var daemonizeFlag bool

func execRunPersistentPreRun() {
	if err := utils.CheckSuperUser(); err != nil {
		log.Fatal(err)
	}
}

func execRunCmd(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if daemonizeFlag {
		config.ForegroundFlag = false
	}

	level := cfg.LogLevel
	if config.LogLevelFlag != "" {
		level = config.LogLevelFlag
	}

	logger.Setup(&logger.Options{
		Level:       level,
		FileEnabled: cfg.LoggingEnabled,
		FilePath:    cfg.LogFile,
		FileSize:    10,
		MaxAge:      7,
		MaxBackups:  7,
		Console:     config.ForegroundFlag,
	})

	if daemonizeFlag {
		ctx := &daemon.Context{
			PidFileName: cfg.PidFile,
			PidFilePerm: 0644,
			Umask:       027,
			Args:        os.Args,
		}

		child, err := ctx.Reborn()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

		// 父进程在子进程脱离后立即返回
		if child != nil {
			return
		}

		defer func() {
			_ = ctx.Release()
		}()
	} else {
		if err := utils.WritePid(cfg.PidFile, utils.SupervisorPid); err == nil {
			defer func() {
				_ = os.Remove(cfg.PidFile)
			}()
		}
	}

	serve(cfg)
}

// serve 构建registry并跑主循环，直到收到关闭请求
func serve(cfg *config.Config) {
	svLog := logger.Logging("taskmaster")
	svLog.Infof("Taskmaster PID %d", utils.SupervisorPid)

	var journal *history.Journal
	if cfg.HistoryDir != "" {
		j, err := history.Open(cfg.HistoryDir)
		if err != nil {
			svLog.Error(err)
		} else {
			journal = j
			defer func() {
				_ = journal.Close()
			}()
		}
	}

	router := supervisor.NewSignalRouter()
	defer router.Close()

	registry := supervisor.NewRegistry(cfg, journal)

	if cfg.WatchConfig {
		watcher, err := supervisor.WatchConfig(cfg.Path(), router)
		if err != nil {
			svLog.Error(err)
		} else {
			defer watcher.Close()
		}
	}

	if server := supervisor.StartMetricsServer(cfg.MetricsListen); server != nil {
		defer func() {
			_ = server.Close()
		}()
	}

	if err := registry.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if config.ForegroundFlag {
		sh := shell.New(registry, journal, router)
		go sh.Loop()
	}

	// 主循环只轮询信号标志，反应动作都在这里执行
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for !router.ShutdownRequested() {
		<-ticker.C

		if router.TakeReload() {
			if err := registry.Reload(); err != nil {
				svLog.Errorf("Reload failed: %v", err)
			}
		}
	}

	registry.StopAll()
	svLog.Info("Taskmaster stopped")
}
