package xid

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator hands out identities for new rows.
type Generator interface {
	New(prefix string) string
}

type UUID struct{}

func (UUID) New(prefix string) string {
	return New(prefix)
}

// New returns a prefixed random (v4) identity such as "sale-1b4e28ba-2fa1-...".
func New(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// Sequence yields predictable ids ("sale-1", "sale-2", ...). Used by tests and
// by fixtures that need stable identities.
type Sequence struct {
	n atomic.Int64
}

func (s *Sequence) New(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, s.n.Add(1))
}
