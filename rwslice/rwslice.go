package rwslice

import (
	"sync"

	"github.com/research1-alt/Can-Log-Convertor-analyzer/can"
)

// FrameQueue 有界的最近帧队列, 供看板侧HTTP查询
type FrameQueue struct {
	sync.Mutex
	timeQueue []can.Frame
	cap       int
}

// 新建一个FrameQueue, cap<=0时不设上限
func NewFrameQueue(cap int) *FrameQueue {
	return &FrameQueue{
		timeQueue: make([]can.Frame, 0, cap),
		cap:       cap,
	}
}

func (m *FrameQueue) Append(v *can.Frame) { // 追加一帧, 超界时淘汰最旧的
	m.Lock() // 锁保护
	defer m.Unlock()
	m.timeQueue = append(m.timeQueue, *v)
	if m.cap > 0 && len(m.timeQueue) > m.cap {
		m.timeQueue = m.timeQueue[len(m.timeQueue)-m.cap:]
	}
}

// Recent 取最近n帧的拷贝, n<=0时取全部
func (m *FrameQueue) Recent(n int) []can.Frame {
	m.Lock()
	defer m.Unlock()

	begin := 0
	if n > 0 && len(m.timeQueue) > n {
		begin = len(m.timeQueue) - n
	}

	frames := make([]can.Frame, len(m.timeQueue)-begin)
	copy(frames, m.timeQueue[begin:])
	return frames
}

func (m *FrameQueue) Clear() { // 清空
	m.Lock() // 锁保护
	defer m.Unlock()
	m.timeQueue = []can.Frame{}
}

func (m *FrameQueue) Len() int { // slice的长度
	m.Lock() // 锁保护
	defer m.Unlock()
	return len(m.timeQueue)
}

func (m *FrameQueue) Each(f func(k int, v *can.Frame) bool) { // 遍历slice
	m.Lock() // 遍历期间一直持有锁
	defer m.Unlock()

	for k, v := range m.timeQueue {
		if !f(k, &v) {
			return
		}
	}
}
