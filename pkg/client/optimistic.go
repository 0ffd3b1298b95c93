package client

import "context"

// Optimistic applies a local mutation before durable confirmation. Snapshot
// captures the state to restore, Apply mutates it, Persist confirms it, and
// Restore puts the snapshot back when Persist fails.
type Optimistic[S any] struct {
	Snapshot func() S
	Apply    func()
	Persist  func(ctx context.Context) error
	Restore  func(S)
}

// Run applies the mutation and persists it. The persist error is returned
// after the snapshot has been restored.
func (o Optimistic[S]) Run(ctx context.Context) error {
	before := o.Snapshot()
	o.Apply()
	if err := o.Persist(ctx); err != nil {
		o.Restore(before)
		return err
	}
	return nil
}
