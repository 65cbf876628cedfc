// Package helloworld is the demo device type. It keeps all state in host
// readings and exercises the set list helper.
package helloworld

import (
	"context"
	"strings"

	"github.com/mfulz/geistbind/interfaces"
	"github.com/mfulz/geistbind/internal/setlist"
)

// Type is the device type name.
const Type = "helloworld"

func init() {
	interfaces.RegisterHandler(interfaces.Registration{
		Type:    Type,
		Factory: New,
	})
}

// Device is one helloworld device.
type Device struct {
	env  interfaces.Env
	sets setlist.List
}

// New creates a helloworld device.
func New(env interfaces.Env) (interfaces.Handler, error) {
	d := &Device{env: env}
	d.sets = setlist.List{
		{Name: "mode", Args: []string{"mode"}, Params: map[string]setlist.Param{"mode": {Default: "eco"}}, Options: "eco,comfort", Func: d.setMode},
		{Name: "desiredTemp", Args: []string{"temperature"}, Options: "slider,10,1,30", Func: d.setDesiredTemp},
		{Name: "holidayMode", Args: []string{"start", "end", "temperature"}, Params: map[string]setlist.Param{
			"start":       {Default: "Monday"},
			"end":         {Default: "23:59"},
			"temperature": {},
		}, Func: d.setHolidayMode},
		{Name: "on", Args: []string{"seconds"}, Params: map[string]setlist.Param{"seconds": {}}, Func: d.setOn},
		{Name: "off", Func: d.setOff},
	}
	return d, nil
}

// Init marks the device as on.
func (d *Device) Init(ctx context.Context, _ *interfaces.Call) (string, error) {
	return "", d.env.Host.ReadingsBulkUpdate(ctx, d.env.Name, []interfaces.Reading{{Name: "state", Value: "on"}}, true)
}

// Teardown has nothing to release.
func (d *Device) Teardown(context.Context, *interfaces.Call) error {
	return nil
}

// HandleCommand serves Set.
func (d *Device) HandleCommand(ctx context.Context, name string, call *interfaces.Call) (string, bool, error) {
	if name != "Set" {
		return "", false, nil
	}
	res, err := setlist.Handle(ctx, d.sets, call)
	return res, true, err
}

func (d *Device) setOn(ctx context.Context, _ *interfaces.Call, p map[string]string) (string, error) {
	state := strings.TrimSpace("on " + p["seconds"])
	return "", d.env.Host.ReadingsSingleUpdate(ctx, d.env.Name, "state", state, true)
}

func (d *Device) setOff(ctx context.Context, _ *interfaces.Call, _ map[string]string) (string, error) {
	return "", d.env.Host.ReadingsSingleUpdate(ctx, d.env.Name, "state", "off", true)
}

func (d *Device) setMode(ctx context.Context, _ *interfaces.Call, p map[string]string) (string, error) {
	return "", d.env.Host.ReadingsSingleUpdate(ctx, d.env.Name, "mode", p["mode"], true)
}

func (d *Device) setDesiredTemp(ctx context.Context, _ *interfaces.Call, p map[string]string) (string, error) {
	return "", d.env.Host.ReadingsSingleUpdate(ctx, d.env.Name, "desiredTemp", p["temperature"], true)
}

func (d *Device) setHolidayMode(ctx context.Context, _ *interfaces.Call, p map[string]string) (string, error) {
	return "", d.env.Host.ReadingsBulkUpdate(ctx, d.env.Name, []interfaces.Reading{
		{Name: "start", Value: p["start"]},
		{Name: "end", Value: p["end"]},
		{Name: "temp", Value: p["temperature"]},
	}, true)
}
