package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"taskmaster/pkg/codec"
	"taskmaster/pkg/config"
)

// umaskMu umask是进程级状态，fork前后的切换必须串行
var umaskMu sync.Mutex

// spawnShortfall 补齐存活副本数和目标值之间的差额
func (e *Engine) spawnShortfall(cfg *config.ProgramConfig) error {
	for e.replicas.Count() < cfg.Instances {
		pid, err := e.spawnOne(cfg)
		if err != nil {
			return err
		}

		e.replicas.Insert(pid)
		replicaGauge.WithLabelValues(cfg.Name).Set(float64(e.replicas.Count()))
		spawnCounter.WithLabelValues(cfg.Name).Inc()

		e.record(codec.EventSpawn, pid, cfg.Command)
		e.logger.Infof("Spawned %s with PID %d", cfg.Name, pid)
	}

	return nil
}

// spawnOne 拉起一个副本
//
// 子进程在配置的工作目录里启动，umask不等于-1时套用配置的umask，
// 两个标准输出流以追加方式重定向到日志文件，导出环境变量，
// 命令行按单个空格切分后执行。命令行不支持引号和转义。
// 日志文件由主控进程在fork之前打开：相对路径按主控进程自己的
// 工作目录解析，不按working_directory；新建日志文件时生效的是
// 主控进程的umask，不是配置的umask。
func (e *Engine) spawnOne(cfg *config.ProgramConfig) (int, error) {
	argv := cfg.Argv()
	if len(argv) == 0 {
		return -1, &StartError{Program: cfg.Name, Reason: "command is empty"}
	}

	stdout, err := openLog(cfg.StdoutLog)
	if err != nil {
		return -1, &StartError{Program: cfg.Name, Reason: "cannot open stdout log", Err: err}
	}

	stderr, err := openLog(cfg.StderrLog)
	if err != nil {
		_ = stdout.Close()
		return -1, &StartError{Program: cfg.Name, Reason: "cannot open stderr log", Err: err}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cfg.WorkingDirectory
	cmd.Env = append(os.Environ(), cfg.Environ()...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = os.Stdin

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	err = e.startWithUmask(cmd, cfg.Umask)

	// 子进程已经持有自己的描述符副本
	_ = stdout.Close()
	_ = stderr.Close()

	if err != nil {
		return -1, &StartError{Program: cfg.Name, Reason: "fork failed", Err: err}
	}

	pid := cmd.Process.Pid

	// 收割走wait4，不再经过cmd.Wait
	_ = cmd.Process.Release()

	return pid, nil
}

// startWithUmask umask不等于-1时在fork前后切换进程umask
func (e *Engine) startWithUmask(cmd *exec.Cmd, umask int) error {
	if umask < 0 {
		return cmd.Start()
	}

	umaskMu.Lock()
	defer umaskMu.Unlock()

	old := syscall.Umask(umask)
	defer syscall.Umask(old)

	return cmd.Start()
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		path = os.DevNull
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}

	return f, nil
}
