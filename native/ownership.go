package native

import (
	"context"
	"fmt"
	"sync"

	"github.com/reglet-dev/capbridge/capability"
)

// OwnershipToken owns one native-allocated result buffer for the duration
// of a single call. Release frees it through the symbol's release export
// and runs at most once, however many times it is called.
type OwnershipToken struct {
	inst    capability.Instance
	release string
	ptr     uint32
	length  uint32

	once sync.Once
	err  error
}

func newOwnershipToken(inst capability.Instance, release string, ptr, length uint32) *OwnershipToken {
	return &OwnershipToken{inst: inst, release: release, ptr: ptr, length: length}
}

// Bytes copies the buffer out of guest memory.
func (t *OwnershipToken) Bytes() ([]byte, error) {
	data, ok := t.inst.Read(t.ptr, t.length)
	if !ok {
		return nil, fmt.Errorf("result buffer out of range: ptr=%d len=%d", t.ptr, t.length)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Release frees the buffer. Without a release export the buffer is
// reclaimed when the instance closes.
func (t *OwnershipToken) Release(ctx context.Context) error {
	t.once.Do(func() {
		if t.release == "" {
			return
		}
		if _, err := t.inst.Call(ctx, t.release, uint64(t.ptr), uint64(t.length)); err != nil {
			t.err = fmt.Errorf("release %s(%d, %d): %w", t.release, t.ptr, t.length, err)
		}
	})
	return t.err
}
