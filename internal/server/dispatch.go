package server

import (
	"time"

	"linekv/internal/metrics"
	"linekv/internal/proto"
	"linekv/internal/store"
)

// Executor applies decoded commands to the store. It never fails: protocol
// problems surface as Error responses, lookup misses as NotFound.
type Executor struct {
	store   *store.Store
	metrics *metrics.Metrics
}

// NewExecutor creates a new executor over the given store.
func NewExecutor(store *store.Store, metrics *metrics.Metrics) *Executor {
	return &Executor{
		store:   store,
		metrics: metrics,
	}
}

// Apply runs one command and returns its response, recording per-command
// metrics.
func (e *Executor) Apply(cmd proto.Command) proto.Response {
	start := time.Now()
	resp := e.apply(cmd)

	status := "ok"
	if resp.Kind == proto.RespError {
		status = "error"
	}
	e.metrics.IncrementCommand(cmd.Kind.String(), status)
	e.metrics.ObserveCommandDuration(cmd.Kind.String(), time.Since(start).Seconds())

	return resp
}

func (e *Executor) apply(cmd proto.Command) proto.Response {
	switch cmd.Kind {
	case proto.CmdSet:
		e.store.Set(cmd.Key, cmd.Value)
		e.metrics.SetKeysTotal(float64(e.store.Len()))
		return proto.OK()

	case proto.CmdGet:
		if value, ok := e.store.Get(cmd.Key); ok {
			return proto.Value(value)
		}
		return proto.NotFound()

	case proto.CmdDelete:
		// DEL answers OK whether or not the key existed.
		e.store.Delete(cmd.Key)
		e.metrics.SetKeysTotal(float64(e.store.Len()))
		return proto.OK()

	case proto.CmdKeys:
		return proto.KeyList(e.store.Keys())

	case proto.CmdQuit:
		return proto.Bye()

	default:
		return proto.Error("unknown command: " + cmd.Raw)
	}
}
