package cleanup

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry tracks the open scopes of one logical file. It is safe for
// concurrent use; the individual scopes it hands out are not.
type Registry struct {
	mu  sync.Mutex
	log *zap.Logger

	open map[*Scope]struct{}
}

// NewRegistry creates a Registry. A nil logger is replaced by zap.NewNop.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:  log,
		open: make(map[*Scope]struct{}),
	}
}

// Open creates a new top-level scope.
func (r *Registry) Open() *Scope {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Scope{reg: r}
	r.open[s] = struct{}{}
	return s
}

// OpenScopes returns the number of scopes that have been opened but not
// yet closed. Useful for leak assertions in tests.
func (r *Registry) OpenScopes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Scope is an ordered list of deferred release actions. Releases run in
// reverse registration order when the scope closes, exactly once.
type Scope struct {
	reg      *Registry
	releases []func() error
	children []*Scope
	closed   bool
}

// Register adds a release action to the scope. Registering on a closed
// scope is a resource-leak programming error and panics.
func (s *Scope) Register(release func() error) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	if s.closed {
		panic("cleanup: resource leak detected: Register on closed scope")
	}
	s.releases = append(s.releases, release)
}

// Child opens a nested scope. If the child is still open when this scope
// closes, its registrations are released as part of the parent's close.
func (s *Scope) Child() *Scope {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	if s.closed {
		panic("cleanup: resource leak detected: Child on closed scope")
	}
	c := &Scope{reg: s.reg}
	s.children = append(s.children, c)
	s.reg.open[c] = struct{}{}
	return c
}

// MoveTo hands every registration of this scope over to dst and closes
// this scope without running anything. Used when a callee acquires a
// handle whose ownership belongs to the caller.
func (s *Scope) MoveTo(dst *Scope) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	if s.closed {
		panic("cleanup: resource leak detected: MoveTo on closed scope")
	}
	if dst.closed {
		panic("cleanup: resource leak detected: MoveTo into closed scope")
	}
	dst.releases = append(dst.releases, s.releases...)
	dst.children = append(dst.children, s.children...)
	s.releases = nil
	s.children = nil
	s.closed = true
	delete(s.reg.open, s)
}

// Close runs every registered release in reverse registration order,
// closing any still-open child scopes first. Release failures are
// collected; when *errp is nil on entry they are returned through it as
// a *CleanupError, otherwise they are logged and *errp is left alone so
// the primary failure is never masked.
//
// Close must be called exactly once; a second call panics. The intended
// use is
//
//	s := reg.Open()
//	defer s.Close(&err)
func (s *Scope) Close(errp *error) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	failed := s.closeLocked()
	if failed == nil {
		return
	}
	if errp != nil && *errp == nil {
		*errp = &CleanupError{Err: failed}
		return
	}
	s.reg.log.Warn("release failures while unwinding a failed operation",
		zap.Error(failed))
}

// closeLocked closes children (newest first), then runs this scope's own
// releases newest first. Returns the combined release failures, nil when
// everything released cleanly.
func (s *Scope) closeLocked() error {
	if s.closed {
		panic("cleanup: scope closed twice")
	}
	s.closed = true
	delete(s.reg.open, s)

	var failed error
	for i := len(s.children) - 1; i >= 0; i-- {
		c := s.children[i]
		if c.closed {
			continue
		}
		failed = multierr.Append(failed, c.closeLocked())
	}
	for i := len(s.releases) - 1; i >= 0; i-- {
		if err := s.releases[i](); err != nil {
			failed = multierr.Append(failed, err)
			s.reg.log.Warn("release action failed", zap.Error(err))
		}
	}
	s.releases = nil
	s.children = nil
	return failed
}

// CleanupError reports release failures from a scope whose operation body
// itself succeeded. Err holds one or more underlying failures.
type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("resource release failed: %v", e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }
