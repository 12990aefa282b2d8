package supervisor

import (
	"slices"
	"sync"
)

// ReplicaSet 一个program当前存活的子进程PID集合
//
// 保留插入顺序，缩容时先摘掉最新加入的副本。
// 锁只覆盖集合本身，从不跨越阻塞的系统调用。
type ReplicaSet struct {
	mu   sync.Mutex
	pids []int
}

func NewReplicaSet() *ReplicaSet {
	return &ReplicaSet{
		pids: make([]int, 0),
	}
}

func (rs *ReplicaSet) Insert(pid int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !slices.Contains(rs.pids, pid) {
		rs.pids = append(rs.pids, pid)
	}
}

// Remove 摘掉一个PID，存在则返回true
func (rs *ReplicaSet) Remove(pid int) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	i := slices.Index(rs.pids, pid)
	if i < 0 {
		return false
	}

	rs.pids = slices.Delete(rs.pids, i, i+1)

	return true
}

// Snapshot 返回一份拷贝，遍历可以在锁外进行
func (rs *ReplicaSet) Snapshot() []int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return slices.Clone(rs.pids)
}

// Newest 最近加入的PID，空集合时返回-1
func (rs *ReplicaSet) Newest() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.pids) == 0 {
		return -1
	}

	return rs.pids[len(rs.pids)-1]
}

func (rs *ReplicaSet) Count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return len(rs.pids)
}

func (rs *ReplicaSet) IsEmpty() bool {
	return rs.Count() == 0
}
