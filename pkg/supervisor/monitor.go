package supervisor

import (
	"errors"
	"fmt"
	"strconv"
	"syscall"
	"time"

	"taskmaster/pkg/codec"
	"taskmaster/pkg/config"
)

// scanInterval 监控任务两次扫描之间的间隔
const scanInterval = 100 * time.Millisecond

// ensureMonitor 监控任务不在运行时拉起一个，CAS保证单例
func (e *Engine) ensureMonitor() {
	if e.monitorRunning.CompareAndSwap(false, true) {
		e.stopRequested.Store(false)
		go e.monitor()
	}
}

// monitor 后台监控任务
//
// 循环扫描副本集做非阻塞收割，直到收到退出请求或集合为空。
// 退出瞬间如果又有新副本插入，重新把自己拉起来，避免漏管。
func (e *Engine) monitor() {
	for {
		if e.stopRequested.Load() {
			break
		}

		if e.replicas.IsEmpty() {
			break
		}

		e.scanOnce()
		time.Sleep(scanInterval)
	}

	e.monitorRunning.Store(false)

	if !e.stopRequested.Load() && !e.replicas.IsEmpty() {
		e.ensureMonitor()
	}
}

// scanOnce 对快照里的每个PID做一次非阻塞收割
func (e *Engine) scanOnce() {
	for _, pid := range e.replicas.Snapshot() {
		var ws syscall.WaitStatus

		wpid, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
		if err != nil {
			if errors.Is(err, syscall.ECHILD) {
				// 不是我们的子进程，记下来继续扫
				e.logger.Warnf("Pid %d is not our child", pid)
				continue
			}

			e.logger.Error(&MonitorError{Program: e.Config().Name, Pid: pid, Err: err})
			continue
		}

		if wpid == pid {
			e.handleExit(pid, ws)
		}
	}
}

// handleExit 处理一个已经退出的副本
//
// 解码退出方式并记录，随后按auto_restart策略决定是否补位。
// 编排中的启停会置suppressRestart，此时调用方兜底，这里不动。
func (e *Engine) handleExit(pid int, ws syscall.WaitStatus) {
	cfg := e.Config()

	e.replicas.Remove(pid)
	replicaGauge.WithLabelValues(cfg.Name).Set(float64(e.replicas.Count()))

	exited := ws.Exited()
	code := -1

	switch {
	case exited:
		code = ws.ExitStatus()
		e.logger.Infof("%s pid %d exited with code %d", cfg.Name, pid, code)
		exitCounter.WithLabelValues(cfg.Name, "exit").Inc()
		e.record(codec.EventExit, pid, strconv.Itoa(code))
	case ws.Signaled():
		e.logger.Infof("%s pid %d terminated by signal %v", cfg.Name, pid, ws.Signal())
		exitCounter.WithLabelValues(cfg.Name, "signal").Inc()
		e.record(codec.EventSignaled, pid, ws.Signal().String())
	default:
		e.logger.Warnf("%s pid %d left an undecodable wait status %v", cfg.Name, pid, ws)
		exitCounter.WithLabelValues(cfg.Name, "unknown").Inc()
		e.record(codec.EventExit, pid, fmt.Sprintf("status %v", ws))
	}

	if e.suppressRestart.Load() {
		return
	}

	switch cfg.AutoRestart {
	case config.RestartAlways:
		e.restartAsync("always")
	case config.RestartUnexpected:
		if exited && cfg.ExpectsExit(code) {
			e.setState(codec.EngineDegraded)
			return
		}
		e.restartAsync("unexpected")
	default:
		e.setState(codec.EngineDegraded)
	}
}

// restartAsync 从监控任务里补位不能阻塞扫描循环，丢到新goroutine
func (e *Engine) restartAsync(reason string) {
	cfg := e.Config()

	restartCounter.WithLabelValues(cfg.Name, reason).Inc()
	e.record(codec.EventRestart, 0, reason)
	e.logger.Infof("Restarting %s, policy %s", cfg.Name, reason)

	go func() {
		// 停机流程已经接手的话就不补了
		if e.stopRequested.Load() {
			return
		}

		if err := e.Start(); err != nil {
			e.logger.Error(err)
		}
	}()
}

// terminate 对单个PID执行优雅终止
//
// 最多stop_time轮，每轮发一次配置的停止信号加一次非阻塞收割，
// 轮与轮之间睡100毫秒；预算耗尽后发SIGKILL并轮询收割到消失。
// ESRCH和ECHILD都视作已经不在。
func (e *Engine) terminate(cfg *config.ProgramConfig, pid int) {
	for i := 0; i < cfg.StopTime; i++ {
		if err := syscall.Kill(pid, cfg.Signal); err != nil {
			if errors.Is(err, syscall.ESRCH) {
				e.reapOnce(pid)
				e.record(codec.EventStop, pid, cfg.StopSignal)
				return
			}

			// kill失败照样走升级流程
			e.logger.Error(&StopError{Program: cfg.Name, Pid: pid, Err: err})
			break
		}

		if e.reapOnce(pid) {
			e.record(codec.EventStop, pid, cfg.StopSignal)
			return
		}

		time.Sleep(scanInterval)

		if e.reapOnce(pid) {
			e.record(codec.EventStop, pid, cfg.StopSignal)
			return
		}
	}

	// 优雅预算耗尽，升级强杀
	e.logger.Warnf("Force killing %s pid %d", cfg.Name, pid)
	_ = syscall.Kill(pid, syscall.SIGKILL)

	for !e.reapOnce(pid) {
		time.Sleep(10 * time.Millisecond)
	}

	e.record(codec.EventKill, pid, "SIGKILL")
}

// reapOnce 非阻塞收割一次，进程已经不存在也算收割成功
func (e *Engine) reapOnce(pid int) bool {
	var ws syscall.WaitStatus

	wpid, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
	if err != nil {
		return errors.Is(err, syscall.ECHILD) || errors.Is(err, syscall.ESRCH)
	}

	return wpid == pid
}
