package stage

import "context"

// Handler describes the contract the pipeline manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *State) error
	Execute(context.Context, *State) error
	HealthCheck(context.Context) Health
}
