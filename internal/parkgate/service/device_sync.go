package service

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

var fieldSanitizer = strings.NewReplacer(":", " ", "\r", " ", "\n", " ")

// FormatCommand renders the reader-side roster command for an entry:
//
//	ADD_PERMITTED:<tagId>:<name>:<role>\n
//	ADD_DENIED:<tagId>:<name>\n
func FormatCommand(e types.PermissionEntry) string {
	tag := fieldSanitizer.Replace(string(e.TagID))
	name := fieldSanitizer.Replace(e.DisplayName)
	if e.Decision == types.Permitted {
		return fmt.Sprintf("ADD_PERMITTED:%s:%s:%s\n", tag, name, fieldSanitizer.Replace(e.Role))
	}
	return fmt.Sprintf("ADD_DENIED:%s:%s\n", tag, name)
}

// DeviceSync pushes roster changes to the reader device so its local list
// matches ours. Delivery is best effort.
type DeviceSync struct {
	mu sync.Mutex
	w  io.Writer
}

func NewDeviceSync() *DeviceSync {
	return &DeviceSync{}
}

// Attach makes w the egress channel. Called when the transport connects.
func (d *DeviceSync) Attach(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w = w
}

// Detach marks that no egress is available.
func (d *DeviceSync) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w = nil
}

func (d *DeviceSync) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w != nil
}

func (d *DeviceSync) Send(e types.PermissionEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.w == nil {
		return fmt.Errorf("%w: %w", ErrTransportWriteFailed, ErrNoEgress)
	}
	if _, err := io.WriteString(d.w, FormatCommand(e)); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportWriteFailed, err)
	}
	return nil
}
