package peer

import (
	"sync"

	"github.com/meshcore/agentmesh/internal/message"
)

// Handler processes one dispatched inbound envelope for an application
// msg_type. The plaintext payload has already been decrypted (if the
// envelope was encrypted) and chunk-reassembled (if it arrived split).
type Handler func(env *message.Envelope, payload []byte)

// HandlerRegistry maps msg_type tags to application handlers (§4.14's
// "look up a registered handler for msg_type and invoke it").
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

func (r *HandlerRegistry) Register(msgType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

func (r *HandlerRegistry) Lookup(msgType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[msgType]
	return h, ok
}
