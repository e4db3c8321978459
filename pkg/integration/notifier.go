package integration

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/logger"
)

// DeletionHandler is called with the id of a deleted integration
type DeletionHandler func(id int64)

// Notifier fans integration deletion events out to subscribers
type Notifier struct {
	mu       sync.RWMutex
	handlers map[int]DeletionHandler
	nextID   int
	logger   *zap.Logger
}

// NewNotifier creates a notifier with no subscribers
func NewNotifier() *Notifier {
	return &Notifier{
		handlers: make(map[int]DeletionHandler),
		logger:   logger.Named("integration_notifier"),
	}
}

// Subscribe registers h and returns a function that removes it
func (n *Notifier) Subscribe(h DeletionHandler) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.handlers[id] = h
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.handlers, id)
		n.mu.Unlock()
	}
}

// PublishDeleted calls every subscriber synchronously. A panicking
// subscriber is logged and does not stop the others.
func (n *Notifier) PublishDeleted(id int64) {
	n.mu.RLock()
	handlers := make([]DeletionHandler, 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					n.logger.Error("deletion subscriber panicked",
						zap.Int64("integration_id", id), zap.Any("panic", p))
				}
			}()
			h(id)
		}()
	}
}
