package gpio

// Disabled is a no-op Output used when no lamp hardware could be configured.
// The controller keeps running and the simulated signal head in the video feed
// remains the only indicator.
type Disabled struct{}

func NewDisabled() *Disabled { return &Disabled{} }

func (Disabled) Set(int, Level) error { return nil }
func (Disabled) Close() error         { return nil }
