// Package shutdown turns SIGINT/SIGTERM into context cancellation and runs
// registered cleanup in reverse order.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
)

const component = "ShutdownManager"

// DefaultComponentTimeout bounds how long one component may take to stop.
const DefaultComponentTimeout = 10 * time.Second

type Shutdownable interface {
	Shutdown()
}

// ShutdownFunc adapts a plain function to Shutdownable.
type ShutdownFunc func()

func (f ShutdownFunc) Shutdown() { f() }

type Manager struct {
	components []Shutdownable
	logger     logger.Logger
	timeout    time.Duration
	mu         sync.Mutex
	done       chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewManager derives the cancellable run context from parent.
func NewManager(parent context.Context, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop{}
	}
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		logger:  log,
		timeout: DefaultComponentTimeout,
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *Manager) Register(component Shutdownable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// Listen cancels the context on the first SIGINT or SIGTERM. Close stops
// listening.
func (m *Manager) Listen() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			m.logger.Info(component, "shutdown signal received", map[string]interface{}{
				"signal": sig.String(),
			})
			m.Shutdown()
		case <-m.stop:
		}
	}()
}

// Shutdown cancels the run context and stops every registered component,
// newest first. Only the first call has an effect.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}

	m.logger.Info(component, "shutdown sequence initiated", map[string]interface{}{
		"components": len(m.components),
	})
	m.cancel()

	for i := len(m.components) - 1; i >= 0; i-- {
		c := m.components[i]
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			c.Shutdown()
		}()

		timer := time.NewTimer(m.timeout)
		select {
		case <-finished:
		case <-timer.C:
			m.logger.Warning(component, "component shutdown timeout", map[string]interface{}{
				"component_index": i,
			})
		}
		timer.Stop()
	}

	m.logger.Info(component, "shutdown sequence completed", nil)
}

// Close shuts down and releases the signal listener.
func (m *Manager) Close() {
	m.Shutdown()
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) Context() context.Context {
	return m.ctx
}

func (m *Manager) Done() <-chan struct{} {
	return m.done
}
