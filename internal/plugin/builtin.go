package plugin

// RegisterBuiltins registers the plugins shipped with the binary.
// Registration order matters: it is the deterministic tie-break for
// chain-priority ordering.
func RegisterBuiltins(r *Registry) error {
	for _, p := range []Plugin{
		NewNmap(),
		NewTheHarvester(),
		NewWhois(),
	} {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
