package pool

import "context"

// Provisioner memoizes one-time schema work per key. Concurrent callers for
// the same key share one pass; a failed pass is retried by the next caller.
type Provisioner struct {
	done *Registry[struct{}]
}

// NewProvisioner returns an empty Provisioner.
func NewProvisioner() *Provisioner {
	return &Provisioner{done: NewRegistry[struct{}]()}
}

// Ensure runs provision for key unless it has already succeeded.
func (p *Provisioner) Ensure(ctx context.Context, key Key, provision func(ctx context.Context) error) error {
	_, err := p.done.GetOrCreate(ctx, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, provision(ctx)
	})
	return err
}

// Provisioned reports whether key completed successfully.
func (p *Provisioner) Provisioned(key Key) bool {
	return p.done.Ready(key)
}

// Len returns the number of provisioned or in-progress keys.
func (p *Provisioner) Len() int {
	return p.done.Len()
}
