package host

import "github.com/Mohsinsiddi/feeledger/internal/revert"

// ErrReentrantCall is returned when a guarded section is entered twice.
var ErrReentrantCall = revert.New(revert.ErrReentrant, "ReentrancyGuard: reentrant call")

// Guard is a non-reentrancy lock held for the duration of a section.
type Guard struct {
	held bool
}

// Enter takes the guard or fails if it is already held.
func (g *Guard) Enter() error {
	if g.held {
		return ErrReentrantCall
	}
	g.held = true
	return nil
}

// Exit releases the guard.
func (g *Guard) Exit() { g.held = false }

// Held reports whether the guarded section is active.
func (g *Guard) Held() bool { return g.held }

// Run executes fn with the guard held.
func (g *Guard) Run(fn func() error) error {
	if err := g.Enter(); err != nil {
		return err
	}
	defer g.Exit()
	return fn()
}
