package ports

import "github.com/Ultimaker/OpenTelepathy/internal/domain"

// Consumer receives finalised DAQ samples. The session's dispatch loop calls
// Deliver from its own goroutine; implementations must not block indefinitely (spec.md
// §5, suspension points are limited to transport I/O and response waits —
// a slow Consumer must not become a new one).
type Consumer interface {
	Deliver(samples []domain.Sample) error
}
