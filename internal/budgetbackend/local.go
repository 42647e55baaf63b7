package budgetbackend

import "sync"

// LocalBackend is the in-process default: a single mutex-guarded float64.
type LocalBackend struct {
	mu    sync.Mutex
	total float64
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

func (b *LocalBackend) Add(amount float64) (float64, error) {
	if err := checkAmount(amount); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += amount
	return b.total, nil
}

func (b *LocalBackend) Get() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, nil
}

func (b *LocalBackend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = 0
	return nil
}

func (b *LocalBackend) Close() error {
	return nil
}
