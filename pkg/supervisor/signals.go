package supervisor

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// SignalRouter 把发给主控进程的信号转成registry层面的意图
//
// SIGHUP置重载标志，其余终止类信号置关闭标志。处理逻辑里
// 只有原子写，所有反应动作都由主循环在轮询标志时执行。
type SignalRouter struct {
	reload   atomic.Bool
	shutdown atomic.Bool

	ch chan os.Signal
}

func NewSignalRouter() *SignalRouter {
	r := &SignalRouter{
		ch: make(chan os.Signal, 8),
	}

	signal.Notify(r.ch, syscall.SIGHUP, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)

	go r.route()

	return r
}

func (r *SignalRouter) route() {
	for sig := range r.ch {
		switch sig {
		case syscall.SIGHUP:
			r.reload.Store(true)
		default:
			r.shutdown.Store(true)
		}
	}
}

// TakeReload 消费一次重载标志
func (r *SignalRouter) TakeReload() bool {
	return r.reload.Swap(false)
}

func (r *SignalRouter) ShutdownRequested() bool {
	return r.shutdown.Load()
}

// RequestReload 配置文件监视器也从这里触发重载
func (r *SignalRouter) RequestReload() {
	r.reload.Store(true)
}

// RequestShutdown 给REPL的exit用
func (r *SignalRouter) RequestShutdown() {
	r.shutdown.Store(true)
}

func (r *SignalRouter) Close() {
	signal.Stop(r.ch)
	close(r.ch)
}
