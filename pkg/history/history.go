// Package history 进程生命周期事件的历史库
//
// 事件按program名加纳秒时间戳做键，值是CBOR编码的事件记录，
// 只追加、只用于诊断回看，主控进程从不依赖它恢复状态。
package history

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"taskmaster/pkg/codec"
	"taskmaster/pkg/logger"
)

type Journal struct {
	db     *badger.DB
	logger *zap.SugaredLogger
}

// Open 打开或创建历史库
func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cannot open history store %s: %w", dir, err)
	}

	return &Journal{
		db:     db,
		logger: logger.Logging("history"),
	}, nil
}

// Record 追加一条事件，失败只记日志不打断监督流程
func (j *Journal) Record(ev codec.Event) {
	if j == nil || j.db == nil {
		return
	}

	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	data, err := codec.Marshal(&ev)
	if err != nil {
		j.logger.Error(err)
		return
	}

	key := fmt.Appendf(nil, "%s::%020d", ev.Program, ev.At.UnixNano())

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		j.logger.Error(err)
	}
}

// Recent 返回某个program最近的n条事件，新的在前
func (j *Journal) Recent(program string, n int) ([]codec.Event, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}

	prefix := []byte(program + "::")
	events := make([]codec.Event, 0, n)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// 反向迭代从前缀区间的末端开始
		seek := append(append([]byte{}, prefix...), 0xff)

		for it.Seek(seek); it.ValidForPrefix(prefix) && len(events) < n; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ev codec.Event
				if err := codec.Unmarshal(val, &ev); err != nil {
					return err
				}

				events = append(events, ev)

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}

	return j.db.Close()
}
