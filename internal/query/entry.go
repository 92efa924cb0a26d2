package query

import (
	"context"
	"sync"
)

// 文档注释：单个签名的结果序列
// 背景：扫描协程是唯一写者，按产出顺序追加；任意数量的消费者各自从头读取。
// 约束：每次追加、完成或失败都关闭并替换 changed，唤醒所有等待中的消费者。
// consumers/abandoned 由 Service.mu 保护，其余字段由 entry.mu 保护。
type entry struct {
	sig        string
	generation int64
	cancel     context.CancelFunc

	consumers int
	abandoned bool

	mu      sync.Mutex
	feats   [][]byte
	size    int
	done    bool
	err     error
	changed chan struct{}
}

func newEntry(sig string, generation int64) *entry {
	return &entry{sig: sig, generation: generation, changed: make(chan struct{})}
}

func (e *entry) broadcast() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *entry) append(b []byte) {
	e.mu.Lock()
	e.feats = append(e.feats, b)
	e.size += len(b)
	e.broadcast()
	e.mu.Unlock()
}

func (e *entry) finish(err error) {
	e.mu.Lock()
	e.done = true
	e.err = err
	e.broadcast()
	e.mu.Unlock()
}

func (e *entry) finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// snapshot：已完成条目的全部结果（供 Redis 回写）
func (e *entry) snapshot() ([][]byte, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feats, e.size
}

// stream：从头输出条目内容，未完成时等待后续追加
// 约束：条目失败时，已输出部分之后返回扫描错误；ctx 结束时返回 ctx.Err()。
func (e *entry) stream(ctx context.Context, emit func([]byte) error) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e.mu.Lock()
		batch := e.feats[n:]
		done, err, changed := e.done, e.err, e.changed
		e.mu.Unlock()

		for _, b := range batch {
			if err := emit(b); err != nil {
				return n, err
			}
			n++
		}
		if done {
			return n, err
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}
