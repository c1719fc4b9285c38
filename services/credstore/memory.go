package credstore

import "sync"

// Memory is a volatile backend for tests and for devices without storage.
type Memory struct {
	mu    sync.Mutex
	doc   map[string]string
	Saves int
	Fail  error // returned by Save when set
}

func NewMemory(seed map[string]string) *Memory {
	m := &Memory{doc: map[string]string{}}
	for k, v := range seed {
		m.doc[k] = v
	}
	return m
}

func (m *Memory) Load() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.doc))
	for k, v := range m.doc {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Save(doc map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.doc = make(map[string]string, len(doc))
	for k, v := range doc {
		m.doc[k] = v
	}
	m.Saves++
	return nil
}
