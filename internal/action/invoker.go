package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/elder-voice/reliability/internal/retry"
	"github.com/elder-voice/reliability/internal/status"
)

// ErrUnknownAction is returned by Invoke for unrecognized action names.
var ErrUnknownAction = errors.New("unknown action")

// Action names accepted by Invoke.
const (
	ActionDispatchEmergency = "dispatch-emergency"
	ActionNotifyFamily      = "notify-family"
	ActionConnectDevice     = "connect-device"
	ActionSetReminder       = "set-reminder"
	ActionScheduleTransport = "schedule-transport"
	ActionRunWorkflow       = "workflow"
)

const (
	workflowNameParam    = "name"
	contactsSeparator    = ","
	defaultEmergencyType = "general"
)

// Invoker runs every Client action through the retry executor, keyed by the
// dependency the action talks to.
type Invoker struct {
	client *Client
	exec   *retry.Executor
}

// NewInvoker creates an Invoker.
func NewInvoker(client *Client, exec *retry.Executor) *Invoker {
	return &Invoker{client: client, exec: exec}
}

// DispatchEmergency retries Client.DispatchEmergency under the emergency dependency.
func (i *Invoker) DispatchEmergency(ctx context.Context, emergencyType string) (Result, error) {
	return retry.Do(i.exec, status.DependencyEmergency, func() (Result, error) {
		return i.client.DispatchEmergency(ctx, emergencyType)
	})
}

// NotifyFamily retries Client.NotifyFamily under the notification dependency.
func (i *Invoker) NotifyFamily(ctx context.Context, contacts []string, message string) (Result, error) {
	return retry.Do(i.exec, status.DependencyNotification, func() (Result, error) {
		return i.client.NotifyFamily(ctx, contacts, message)
	})
}

// ConnectHealthDevice retries Client.ConnectHealthDevice under the health dependency.
func (i *Invoker) ConnectHealthDevice(ctx context.Context, deviceType string) (Result, error) {
	return retry.Do(i.exec, status.DependencyHealth, func() (Result, error) {
		return i.client.ConnectHealthDevice(ctx, deviceType)
	})
}

// SetReminder retries Client.SetReminder under the notification dependency.
func (i *Invoker) SetReminder(ctx context.Context, reminderType, at, message string) (Result, error) {
	return retry.Do(i.exec, status.DependencyNotification, func() (Result, error) {
		return i.client.SetReminder(ctx, reminderType, at, message)
	})
}

// ScheduleTransportation retries Client.ScheduleTransportation under the
// transportation dependency.
func (i *Invoker) ScheduleTransportation(ctx context.Context, pickupTime, location string) (Result, error) {
	return retry.Do(i.exec, status.DependencyTransportation, func() (Result, error) {
		return i.client.ScheduleTransportation(ctx, pickupTime, location)
	})
}

// RunWorkflow retries Client.RunWorkflow under the workflow webhook.
func (i *Invoker) RunWorkflow(ctx context.Context, workflow string, params map[string]any) (Result, error) {
	return retry.Do(i.exec, DependencyWorkflow, func() (Result, error) {
		return i.client.RunWorkflow(ctx, workflow, params)
	})
}

// Actions lists the names accepted by Invoke.
func Actions() []string {
	names := []string{
		ActionDispatchEmergency,
		ActionNotifyFamily,
		ActionConnectDevice,
		ActionSetReminder,
		ActionScheduleTransport,
		ActionRunWorkflow,
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named action with string parameters, as supplied from the
// command line.
//
//	dispatch-emergency  type
//	notify-family       contacts (comma separated), message
//	connect-device      deviceType
//	set-reminder        type, time, message
//	schedule-transport  pickupTime, location
//	workflow            name, any other key is passed as a workflow param
func (i *Invoker) Invoke(ctx context.Context, name string, params map[string]string) (Result, error) {
	switch name {
	case ActionDispatchEmergency:
		t := params["type"]
		if t == "" {
			t = defaultEmergencyType
		}
		return i.DispatchEmergency(ctx, t)

	case ActionNotifyFamily:
		var contacts []string
		for _, c := range strings.Split(params["contacts"], contactsSeparator) {
			if c = strings.TrimSpace(c); c != "" {
				contacts = append(contacts, c)
			}
		}
		return i.NotifyFamily(ctx, contacts, params["message"])

	case ActionConnectDevice:
		return i.ConnectHealthDevice(ctx, params["deviceType"])

	case ActionSetReminder:
		return i.SetReminder(ctx, params["type"], params["time"], params["message"])

	case ActionScheduleTransport:
		return i.ScheduleTransportation(ctx, params["pickupTime"], params["location"])

	case ActionRunWorkflow:
		workflow := params[workflowNameParam]
		if workflow == "" {
			return Result{}, fmt.Errorf("%s: %q parameter required", name, workflowNameParam)
		}
		rest := make(map[string]any, len(params))
		for k, v := range params {
			if k != workflowNameParam {
				rest[k] = v
			}
		}
		return i.RunWorkflow(ctx, workflow, rest)

	default:
		return Result{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownAction, name, strings.Join(Actions(), ", "))
	}
}
