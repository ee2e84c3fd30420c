package scheduler

import "fmt"

// Handler implements one entity operation. It reads/writes state and
// the operation result through ctx, and returns an error if the
// operation failed; the dispatcher captures that error into the
// operation's ResponseMessage rather than letting it escape.
// destructOnExit is a flag observed by the loop, not a panic/throw.
type Handler func(ctx *Context) error

// Registry maps className -> operationName -> Handler, the declarative
// dispatch table entity classes register their operations into. The
// typed façade a code generator might build on top is optional; the
// runtime only ever needs this registry.
type Registry struct {
	classes map[string]map[string]Handler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]map[string]Handler)}
}

// Register associates operationName with handler for className.
// Re-registering the same (className, operationName) pair overwrites
// the previous handler.
func (r *Registry) Register(className, operationName string, handler Handler) {
	if r.classes == nil {
		r.classes = make(map[string]map[string]Handler)
	}
	ops, ok := r.classes[className]
	if !ok {
		ops = make(map[string]Handler)
		r.classes[className] = ops
	}
	ops[operationName] = handler
}

// Lookup returns the handler registered for (className, operationName).
func (r *Registry) Lookup(className, operationName string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	ops, ok := r.classes[className]
	if !ok {
		return nil, false
	}
	h, ok := ops[operationName]
	return h, ok
}

// MustRegister is Register with a panic guard against a nil handler,
// useful for package-init-time registration tables.
func (r *Registry) MustRegister(className, operationName string, handler Handler) {
	if handler == nil {
		panic(fmt.Sprintf("scheduler: nil handler for %s.%s", className, operationName))
	}
	r.Register(className, operationName, handler)
}
