package lifecycle

import (
	"context"
	"errors"

	"wakegate/internal/api"
	"wakegate/internal/runtime/commands"
)

const (
	CommandStartBackend = "backend.start"
	CommandStopBackend  = "backend.stop"
)

var ErrInvalidCommand = errors.New("lifecycle: invalid command")

// StartBackendCommand requests a manual start.
type StartBackendCommand struct {
	Source string
}

func (StartBackendCommand) Name() string { return CommandStartBackend }

// StopBackendCommand requests a manual stop.
type StopBackendCommand struct {
	Source string
}

func (StopBackendCommand) Name() string { return CommandStopBackend }

// ManualResponse reports the outcome of a manual command and the state after it.
type ManualResponse struct {
	Result api.ManualResult `json:"result"`
	State  api.BackendState `json:"state"`
}

func RegisterHandlers(dispatcher *commands.Dispatcher, o *Orchestrator) {
	if dispatcher == nil || o == nil {
		return
	}
	dispatcher.Register(CommandStartBackend, commands.HandlerFunc(o.handleStartCommand))
	dispatcher.Register(CommandStopBackend, commands.HandlerFunc(o.handleStopCommand))
}

func (o *Orchestrator) handleStartCommand(ctx context.Context, cmd commands.Command) (commands.Response, error) {
	if _, ok := cmd.(StartBackendCommand); !ok {
		return nil, ErrInvalidCommand
	}
	res, err := o.ManualStart(ctx)
	return ManualResponse{Result: res, State: o.State()}, err
}

func (o *Orchestrator) handleStopCommand(ctx context.Context, cmd commands.Command) (commands.Response, error) {
	if _, ok := cmd.(StopBackendCommand); !ok {
		return nil, ErrInvalidCommand
	}
	res, err := o.ManualStop(ctx)
	return ManualResponse{Result: res, State: o.State()}, err
}
