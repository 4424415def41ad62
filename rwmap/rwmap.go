package rwmap

import (
	"sync"

	"github.com/research1-alt/Can-Log-Convertor-analyzer/can"
)

// RWFrameMap 按规范id保存最新一帧, 实时流模式的合并窗口用
type RWFrameMap struct {
	sync.RWMutex
	m map[string]can.Frame
}

// 新建一个RWFrameMap
func NewRWFrameMap(n int) *RWFrameMap {
	return &RWFrameMap{
		m: make(map[string]can.Frame, n),
	}
}

func (m *RWFrameMap) Get(canId string) (*can.Frame, bool) { // 从map中读取一个值
	m.RLock()
	defer m.RUnlock()
	v, existed := m.m[canId] // 在锁的保护下从map中读取
	return &v, existed
}

func (m *RWFrameMap) Set(canId string, v *can.Frame) { // 设置一个键值对
	m.Lock() // 锁保护
	defer m.Unlock()
	m.m[canId] = *v
}

func (m *RWFrameMap) Delete(canId string) { // 删除一个键
	m.Lock() // 锁保护
	defer m.Unlock()
	delete(m.m, canId)
}

func (m *RWFrameMap) Clear() { // 重建map, 防止map过大
	m.Lock() // 锁保护
	defer m.Unlock()
	m.m = map[string]can.Frame{}
}

func (m *RWFrameMap) Len() int { // map的长度
	m.RLock() // 锁保护
	defer m.RUnlock()
	return len(m.m)
}

// Snapshot 取出当前窗口内的全部帧
func (m *RWFrameMap) Snapshot() []can.Frame {
	m.RLock()
	defer m.RUnlock()

	frames := make([]can.Frame, 0, len(m.m))
	for _, v := range m.m {
		frames = append(frames, v)
	}
	return frames
}

func (m *RWFrameMap) Each(f func(canId string, v *can.Frame) bool) { // 遍历map
	m.RLock() // 遍历期间一直持有读锁
	defer m.RUnlock()

	for k, v := range m.m {
		if !f(k, &v) {
			return
		}
	}
}
