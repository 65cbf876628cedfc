// Package interfaces defines the capability surface device handlers expose to
// the dispatcher and the registry device types register into.
// Each device type (e.g. helloworld, mqttswitch) must implement Handler.
package interfaces

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mfulz/geistbind/internal/deps"
	"github.com/mfulz/geistbind/internal/tasks"
	"github.com/mfulz/geistbind/protocol"
	"go.uber.org/zap"
)

// Call carries the arguments of one handler invocation. Hash is the request
// frame; fields a handler stores in it are pushed back to the host with the
// next update.
type Call struct {
	Hash     protocol.Hash
	Function string
	Args     []string
	ArgsH    map[string]string
}

// Name returns the device name of the call.
func (c *Call) Name() string {
	return c.Hash.String(protocol.FieldName)
}

// Handler is the lifecycle every device handler implements.
type Handler interface {
	// Init sets the device up. A non-empty string is a user-visible status.
	// The context is only valid for the duration of the call; long-running
	// work belongs in Env.Tasks.
	Init(ctx context.Context, call *Call) (string, error)

	// Teardown releases the device's resources. Tasks started through
	// Env.Tasks are cancelled by the dispatcher afterwards.
	Teardown(ctx context.Context, call *Call) error
}

// AttributeHandler is an optional extension to Handler.
// It is notified when an attribute of the device changes.
type AttributeHandler interface {
	Handler
	OnAttributeChange(ctx context.Context, call *Call) (string, error)
}

// CommandHandler is an optional extension to Handler.
// It serves arbitrary named operations. ok=false means the handler does not
// know the operation, which the dispatcher treats as a successful no-op.
type CommandHandler interface {
	Handler
	HandleCommand(ctx context.Context, name string, call *Call) (result string, ok bool, err error)
}

// Reading is a single reading value reported to the host.
type Reading struct {
	Name  string
	Value string
}

// Host is the reporting channel back to the host engine.
type Host interface {
	ReadingsSingleUpdate(ctx context.Context, name, reading, value string, trigger bool) error
	ReadingsBulkUpdate(ctx context.Context, name string, readings []Reading, trigger bool) error
	AttrVal(ctx context.Context, name, attr, def string) (string, error)
	ReadingsVal(ctx context.Context, name, reading, def string) (string, error)
	CommandAttr(ctx context.Context, name, attr, value string) error
	CommandDeleteReading(ctx context.Context, name, pattern string) error
	Execute(ctx context.Context, name, cmd string) (string, error)
}

// Env is what a handler is constructed with.
type Env struct {
	Name   string
	Type   string
	Logger *zap.SugaredLogger
	Host   Host
	Tasks  *tasks.Group
}

// Factory constructs a handler for one device.
type Factory func(env Env) (Handler, error)

// Registration describes a device type.
type Registration struct {
	Type     string
	Factory  Factory
	Requires []deps.Requirement
}

var (
	registryMu         sync.RWMutex
	registeredHandlers = make(map[string]Registration)
)

// RegisterHandler adds a device type to the global registry under a unique name.
func RegisterHandler(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registeredHandlers[reg.Type]; exists {
		panic(fmt.Sprintf("handler already registered: %s", reg.Type))
	}
	registeredHandlers[reg.Type] = reg
}

// GetHandler retrieves a previously registered device type by name.
func GetHandler(deviceType string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registeredHandlers[deviceType]
	if !ok {
		return Registration{}, fmt.Errorf("no handler registered for type: %s", deviceType)
	}
	return reg, nil
}

// HandlerTypes returns the registered device types, sorted.
func HandlerTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registeredHandlers))
	for t := range registeredHandlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
