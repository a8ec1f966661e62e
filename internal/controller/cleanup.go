package controller

import (
	"container/list"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "controller")

// CleanupStack is the run's at-exit LIFO (§5): detach overlays before
// deleting them, unmount the ESP before removing the temp mountpoint,
// terminate child processes before deleting scratch dirs, and so on. Each
// registered func runs exactly once, most-recently-registered first,
// mirroring how QemuBuilder.Close tears its own resources down in
// acquisition-reverse order, generalized here into a reusable stack any
// stage of the pipeline can push onto.
type CleanupStack struct {
	stack *list.List
}

// NewCleanupStack returns an empty stack ready for use.
func NewCleanupStack() *CleanupStack {
	return &CleanupStack{stack: list.New()}
}

// Push registers fn to run during Run, after everything pushed after it.
func (c *CleanupStack) Push(name string, fn func() error) {
	c.stack.PushBack(struct {
		name string
		fn   func() error
	}{name, fn})
}

// Run executes every registered func in LIFO order, best-effort: a
// failing func is logged and does not stop the rest from running.
func (c *CleanupStack) Run() {
	for e := c.stack.Back(); e != nil; e = e.Prev() {
		entry := e.Value.(struct {
			name string
			fn   func() error
		})
		if err := entry.fn(); err != nil {
			plog.Warningf("cleanup: %s: %v", entry.name, err)
		}
	}
	c.stack.Init()
}
