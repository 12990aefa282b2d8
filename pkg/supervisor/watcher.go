package supervisor

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"taskmaster/pkg/logger"
)

// debounceDelay 编辑器保存往往是一串事件，压成一次重载
const debounceDelay = 500 * time.Millisecond

// ConfigWatcher 盯住配置文件，变更去抖后置重载标志
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	router  *SignalRouter
	done    chan struct{}
	logger  *zap.SugaredLogger
}

// WatchConfig 对配置文件所在目录建立监视
func WatchConfig(path string, router *SignalRouter) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}

	cw := &ConfigWatcher{
		watcher: w,
		path:    abs,
		router:  router,
		done:    make(chan struct{}),
		logger:  logger.Logging("watcher"),
	}

	go cw.loop()

	cw.logger.Infof("Watching %s", abs)

	return cw, nil
}

func (cw *ConfigWatcher) loop() {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if event.Name != cw.path {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				cw.logger.Debugf("Config file event %s", event.Op)
				timer.Reset(debounceDelay)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error(err)
		case <-timer.C:
			cw.logger.Info("Config file changed, requesting reload")
			cw.router.RequestReload()
		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) Close() {
	close(cw.done)
	_ = cw.watcher.Close()
}
