// Package dispatch routes request frames from the host to device handler
// instances. It owns the instance registry, the load guard and the listener
// registry, and runs every handler operation through the bounded worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mfulz/geistbind/interfaces"
	"github.com/mfulz/geistbind/internal/deps"
	"github.com/mfulz/geistbind/internal/logging"
	"github.com/mfulz/geistbind/internal/tasks"
	"github.com/mfulz/geistbind/internal/workerpool"
	"github.com/mfulz/geistbind/protocol"
	"go.uber.org/zap"
)

const (
	stateReading   = "state"
	verboseAttr    = "verbose"
	defaultVerbose = "3"

	msgInstalling = "Installing updates..."
	msgInstalled  = "Installation finished. Define now..."
)

// Resolver looks up the registration of a device type.
type Resolver func(deviceType string) (interfaces.Registration, error)

// LoggerFactory builds the per-device logger for a verbosity setting.
type LoggerFactory func(name, verbose string) (*zap.SugaredLogger, zap.AtomicLevel)

// Options configures a Dispatcher. Sender, Host and Pool are required.
type Options struct {
	Sender    Sender
	Host      interfaces.Host
	Listeners *Listeners
	Pool      *workerpool.Pool
	Gate      *deps.Gate
	Timeouts  *TimeoutPolicy
	Resolver  Resolver
	Loggers   LoggerFactory
}

// Dispatcher routes inbound frames. OnMessage is safe for concurrent use;
// each frame is expected to run in its own goroutine.
type Dispatcher struct {
	sender    Sender
	host      interfaces.Host
	listeners *Listeners
	pool      *workerpool.Pool
	gate      *deps.Gate
	timeouts  *TimeoutPolicy
	resolve   Resolver
	loggers   LoggerFactory
	registry  *Registry

	// base scopes the task groups of all instances; cancelled by Close.
	base   context.Context
	cancel context.CancelFunc
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Listeners == nil {
		opts.Listeners = NewListeners()
	}
	if opts.Timeouts == nil {
		opts.Timeouts = NewTimeoutPolicy(defaultTimeout, reducedTimeout, graceTimeout)
	}
	if opts.Resolver == nil {
		opts.Resolver = interfaces.GetHandler
	}
	if opts.Loggers == nil {
		opts.Loggers = logging.DeviceLogger
	}
	if opts.Pool == nil {
		opts.Pool = workerpool.New(16)
	}

	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender:    opts.Sender,
		host:      opts.Host,
		listeners: opts.Listeners,
		pool:      opts.Pool,
		gate:      opts.Gate,
		timeouts:  opts.Timeouts,
		resolve:   opts.Resolver,
		loggers:   opts.Loggers,
		registry:  NewRegistry(),
		base:      base,
		cancel:    cancel,
	}
}

// Registry exposes the instance registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Listeners exposes the listener registry.
func (d *Dispatcher) Listeners() *Listeners {
	return d.listeners
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Instances        []string `json:"instances"`
	Loading          []string `json:"loading"`
	PendingListeners int      `json:"pending_listeners"`
	Workers          int      `json:"workers"`
}

// Stats returns the current dispatcher state.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Instances:        d.registry.Names(),
		Loading:          d.registry.Loading(),
		PendingListeners: d.listeners.Len(),
		Workers:          d.pool.Size(),
	}
}

// OnMessage handles one raw inbound frame. Frames carrying the awaitId of a
// pending listener are delivered to it; everything else is routed as a
// request. Errors are logged, never returned.
func (d *Dispatcher) OnMessage(ctx context.Context, raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		logging.Log.Errorf("[dispatch] dropping frame: %v", err)
		return
	}

	if token := frame.String(protocol.FieldAwaitID); token != "" {
		if d.listeners.Deliver(token, raw) {
			return
		}
		logging.Log.Debugf("[dispatch] no listener for awaitId %s", token)
	}

	if msgtype := frame.String(protocol.FieldMsgType); msgtype != protocol.MsgFunction {
		logging.Log.Debugf("[dispatch] ignoring frame with msgtype '%s'", msgtype)
		return
	}

	req, err := protocol.ParseRequest(frame)
	if err != nil {
		if id, ok := frame[protocol.FieldID]; ok {
			d.send(protocol.ErrorReply(&protocol.Request{Hash: frame, ID: id}, err.Error()))
			return
		}
		logging.Log.Errorf("[dispatch] dropping request: %v", err)
		return
	}

	d.Dispatch(ctx, req)
}

// Dispatch runs one parsed request to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Request) {
	logging.Log.Debugf("[dispatch] %s: %s %v", req.Name, req.Function, req.Args)

	if req.Function == protocol.FnRename {
		d.rename(req)
		return
	}

	acked := false
	if req.Function != protocol.FnUndefine {
		if _, ok := d.registry.Lookup(req.Name); !ok {
			switch d.registry.Guard(req.Name) {
			case GuardBusy:
				d.reply(req, "")
				return
			case GuardAcquired:
				// construction latency is unbounded; ack before any slow work
				d.reply(req, "")
				acked = true
				if !d.construct(ctx, req) || req.Function == protocol.FnDefine {
					return
				}
			case GuardLoaded:
			}
		}
	}

	inst, ok := d.registry.Lookup(req.Name)
	if !ok || inst.Tasks.Stopped() {
		// gone, or being removed by a concurrent Undefine or Close
		d.finish(ctx, req, acked, "")
		return
	}
	d.invoke(ctx, req, inst, acked)
}

// construct resolves, builds and initializes the instance for req.Name. The
// caller holds the guard. It reports whether the requested operation should
// still run.
func (d *Dispatcher) construct(ctx context.Context, req *protocol.Request) bool {
	name := req.Name
	timeout := d.timeouts.Current()

	abort := func(msg string) bool {
		d.registry.Release(name)
		logging.Log.Errorf("[dispatch] %s: %s", name, msg)
		d.pushState(ctx, name, msg)
		return false
	}

	if d.gate != nil {
		notify := func(p deps.Phase) {
			switch p {
			case deps.PhaseInstalling:
				d.pushState(ctx, name, msgInstalling)
			case deps.PhaseInstalled:
				d.pushState(ctx, name, msgInstalled)
			}
		}
		if _, err := d.gate.Ensure(ctx, req.Type, notify); err != nil {
			return abort(fmt.Sprintf("Failed to install dependencies for %s: %v", req.Type, err))
		}
	}

	reg, err := d.resolve(req.Type)
	if err != nil {
		return abort(fmt.Sprintf("Failed to load module %s: %v", req.Type, err))
	}

	verbose := d.verbosity(ctx, name, timeout)
	logger, level := d.loggers(name, verbose)
	group := tasks.New(d.base, func(err error) {
		logger.Errorf("background task failed: %v", err)
	})

	env := interfaces.Env{
		Name:   name,
		Type:   req.Type,
		Logger: logger,
		Host:   d.host,
		Tasks:  group,
	}
	handler, late, err := workerpool.Run(ctx, d.pool, timeout, func(context.Context) (interfaces.Handler, error) {
		return reg.Factory(env)
	})
	if err != nil {
		if late != nil {
			go d.abandonHandler(name, group, late)
		} else {
			group.Cancel()
		}
		if errors.Is(err, ErrTimeout) {
			return abort(timeoutMessage(timeout, name, protocol.FnDefine))
		}
		return abort(fmt.Sprintf("Failed to load module %s: %v", req.Type, err))
	}

	inst := &Instance{
		Type:    req.Type,
		Handler: handler,
		Logger:  logger,
		Level:   level,
		Tasks:   group,
	}

	call := &interfaces.Call{
		Hash:     req.Hash,
		Function: protocol.FnDefine,
		Args:     req.DefArgs,
		ArgsH:    req.DefArgsH,
	}
	if req.Function == protocol.FnDefine {
		call.Args, call.ArgsH = req.Args, req.ArgsH
	}

	res, lateInit, err := workerpool.Run(ctx, d.pool, timeout, func(ctx context.Context) (string, error) {
		return handler.Init(ctx, call)
	})
	if errors.Is(err, ErrTimeout) {
		go d.abandonInit(name, inst, call, lateInit)
		return abort(timeoutMessage(timeout, name, protocol.FnDefine))
	}

	d.registry.Publish(name, inst)
	logging.Log.Infof("[dispatch] %s: instance of %s published", name, req.Type)

	if err != nil {
		d.logFailure(name, protocol.FnDefine, err)
		d.pushState(ctx, name, fmt.Sprintf("Failed to execute function %s: %v", protocol.FnDefine, err))
		return false
	}
	if res != "" {
		d.pushState(ctx, name, res)
	}
	if req.Function == protocol.FnDefine {
		d.finish(ctx, req, true, res)
	}
	return true
}

// invoke runs the requested operation on a live instance.
func (d *Dispatcher) invoke(ctx context.Context, req *protocol.Request, inst *Instance, acked bool) {
	if req.Function == protocol.FnAttr && isVerbosityAttr(req.Args) {
		d.setVerbosity(req, inst)
		d.finish(ctx, req, acked, "")
		return
	}

	call := &interfaces.Call{
		Hash:     req.Hash,
		Function: req.Function,
		Args:     req.Args,
		ArgsH:    req.ArgsH,
	}
	op, ok := operation(inst.Handler, call)
	if !ok {
		inst.Logger.Debugf("no operation '%s', ignoring", req.Function)
		if req.Function == protocol.FnUndefine {
			d.remove(req.Name, inst)
		}
		d.finish(ctx, req, acked, "")
		return
	}

	timeout := d.timeouts.Current()
	inst.Logger.Debugf("start function %s:%s", req.Name, req.Function)
	res, _, err := workerpool.Run(ctx, d.pool, timeout, op)
	inst.Logger.Debugf("end function %s:%s", req.Name, req.Function)

	if req.Function == protocol.FnUndefine {
		d.remove(req.Name, inst)
	}

	if err != nil {
		var msg string
		if errors.Is(err, ErrTimeout) {
			msg = timeoutMessage(timeout, req.Name, req.Function)
		} else {
			d.logFailure(req.Name, req.Function, err)
			msg = fmt.Sprintf("Failed to execute function %s: %v", req.Function, err)
		}
		d.fail(ctx, req, acked, msg)
		return
	}
	d.finish(ctx, req, acked, res)
}

// operation maps a function name onto the capability surface of h.
func operation(h interfaces.Handler, call *interfaces.Call) (func(context.Context) (string, error), bool) {
	switch call.Function {
	case protocol.FnDefine:
		return func(ctx context.Context) (string, error) {
			return h.Init(ctx, call)
		}, true
	case protocol.FnUndefine:
		return func(ctx context.Context) (string, error) {
			return "", h.Teardown(ctx, call)
		}, true
	case protocol.FnAttr:
		ah, ok := h.(interfaces.AttributeHandler)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context) (string, error) {
			return ah.OnAttributeChange(ctx, call)
		}, true
	}

	ch, ok := h.(interfaces.CommandHandler)
	if !ok {
		return nil, false
	}
	return func(ctx context.Context) (string, error) {
		res, _, err := ch.HandleCommand(ctx, call.Function, call)
		return res, err
	}, true
}

func (d *Dispatcher) rename(req *protocol.Request) {
	if len(req.Args) < 2 {
		d.send(protocol.ErrorReply(req, "Rename requires the old and the new name"))
		return
	}
	moved, displaced := d.registry.Rename(req.Args[0], req.Args[1])
	if moved {
		logging.Log.Infof("[dispatch] renamed %s to %s", req.Args[0], req.Args[1])
	}
	if displaced != nil {
		logging.Log.Warnf("[dispatch] %s: replaced by rename, tearing down", req.Args[1])
		go d.dispose(req.Args[1], displaced)
	}
	d.reply(req, "")
}

// dispose tears down an instance that is no longer registered and cancels
// its tasks.
func (d *Dispatcher) dispose(name string, inst *Instance) {
	call := &interfaces.Call{
		Hash:     protocol.Hash{protocol.FieldName: name},
		Function: protocol.FnUndefine,
	}
	d.teardown(name, inst.Handler, call)
	inst.Tasks.Cancel()
}

// remove drops name from the registry and cancels the instance's tasks.
func (d *Dispatcher) remove(name string, inst *Instance) {
	d.registry.Remove(name)
	inst.Tasks.Cancel()
	logging.Log.Infof("[dispatch] %s: instance removed", name)
}

// abandonHandler waits for a factory that outlived its bound and tears the
// late handler down.
func (d *Dispatcher) abandonHandler(name string, group *tasks.Group, late <-chan workerpool.Result[interfaces.Handler]) {
	res := <-late
	if res.Err == nil && res.Value != nil {
		call := &interfaces.Call{
			Hash:     protocol.Hash{protocol.FieldName: name},
			Function: protocol.FnUndefine,
		}
		d.teardown(name, res.Value, call)
	}
	group.Cancel()
}

// abandonInit waits for an Init that outlived its bound and tears the
// instance down once it returns. The instance was never published.
func (d *Dispatcher) abandonInit(name string, inst *Instance, call *interfaces.Call, late <-chan workerpool.Result[string]) {
	if late != nil {
		<-late
	}
	down := &interfaces.Call{Hash: call.Hash, Function: protocol.FnUndefine}
	d.teardown(name, inst.Handler, down)
	inst.Tasks.Cancel()
}

func (d *Dispatcher) teardown(name string, h interfaces.Handler, call *interfaces.Call) {
	timeout := d.timeouts.Current()
	_, _, err := workerpool.Run(d.base, d.pool, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.Teardown(ctx, call)
	})
	if err != nil {
		logging.Log.Warnf("[dispatch] %s: teardown failed: %v", name, err)
	}
}

// Close tears down every live instance and cancels all background tasks.
func (d *Dispatcher) Close() {
	for _, name := range d.registry.Names() {
		inst, ok := d.registry.Remove(name)
		if !ok {
			continue
		}
		call := &interfaces.Call{
			Hash:     protocol.Hash{protocol.FieldName: name},
			Function: protocol.FnUndefine,
		}
		d.teardown(name, inst.Handler, call)
		inst.Tasks.Stop()
	}
	d.cancel()
}

// verbosity reads the verbose attribute of name from the host.
func (d *Dispatcher) verbosity(ctx context.Context, name string, timeout time.Duration) string {
	if d.host == nil {
		return defaultVerbose
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := d.host.AttrVal(ctx, name, verboseAttr, defaultVerbose)
	if err != nil {
		logging.Log.Warnf("[dispatch] %s: reading verbose attribute failed: %v", name, err)
		return defaultVerbose
	}
	return v
}

// isVerbosityAttr matches "set <dev> verbose <n>" and "del <dev> verbose".
func isVerbosityAttr(args []string) bool {
	return len(args) >= 3 && args[2] == verboseAttr
}

func (d *Dispatcher) setVerbosity(req *protocol.Request, inst *Instance) {
	verbose := ""
	if req.Args[0] == "set" && len(req.Args) >= 4 {
		verbose = req.Args[3]
	}
	inst.Level.SetLevel(logging.VerbosityLevel(verbose))
	logging.Log.Debugf("[dispatch] %s: log level set to %s", req.Name, inst.Level.Level())
}

// finish delivers a successful outcome.
func (d *Dispatcher) finish(ctx context.Context, req *protocol.Request, acked bool, result string) {
	if acked {
		d.send(protocol.Update(req.Hash))
		return
	}
	d.reply(req, result)
}

// fail delivers a failed outcome.
func (d *Dispatcher) fail(ctx context.Context, req *protocol.Request, acked bool, msg string) {
	logging.Log.Errorf("[dispatch] %s: %s", req.Name, msg)
	if acked {
		d.pushState(ctx, req.Name, msg)
		return
	}
	d.send(protocol.ErrorReply(req, msg))
}

func (d *Dispatcher) reply(req *protocol.Request, result string) {
	d.send(protocol.Reply(req, result))
}

func (d *Dispatcher) send(frame protocol.Hash) {
	if err := d.sender.Send(frame); err != nil {
		logging.Log.Warnf("[dispatch] send failed: %v", err)
	}
}

// pushState sets the state reading of name on the host.
func (d *Dispatcher) pushState(ctx context.Context, name, value string) {
	if d.host == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Current())
	defer cancel()
	if err := d.host.ReadingsSingleUpdate(ctx, name, stateReading, value, true); err != nil {
		logging.Log.Warnf("[dispatch] %s: state update failed: %v", name, err)
	}
}

func (d *Dispatcher) logFailure(name, function string, err error) {
	var perr *workerpool.PanicError
	if errors.As(err, &perr) {
		logging.Log.Errorf("[dispatch] %s: %s panicked: %v\n%s", name, function, perr.Value, perr.Stack)
		return
	}
	logging.Log.Errorf("[dispatch] %s: %s failed: %v", name, function, err)
}

func timeoutMessage(bound time.Duration, name, function string) string {
	return fmt.Sprintf("Function execution >%gs, cancelled: %s - %s", bound.Seconds(), name, function)
}
