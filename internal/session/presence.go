package session

import "sync"

// Table 记录每个连接选定的显示名。一个连接 id 至多出现一次，
// 所有操作都在互斥锁内完成，计数永远对应某个完整的状态。
type Table struct {
	mu      sync.Mutex
	entries map[string]string // connection id -> 显示名，"" 表示尚未加入
}

func NewTable() *Table {
	return &Table{entries: make(map[string]string)}
}

// Insert 注册一个未命名的连接。重复注册时以后写为准。
func (t *Table) Insert(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = ""
}

// Remove 注销连接，返回其显示名以及该连接此前是否存在。
func (t *Table) Remove(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return name, ok
}

// SetName 更新连接的显示名；连接不存在时不做任何修改并返回 false。
func (t *Table) SetName(id, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	t.entries[id] = name
	return true
}

// GetName 返回连接当前的显示名。
func (t *Table) GetName(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.entries[id]
	return name, ok
}

// CountNamed 返回已设定显示名的连接数，即对外广播的在线人数。
func (t *Table) CountNamed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, name := range t.entries {
		if name != "" {
			n++
		}
	}
	return n
}
