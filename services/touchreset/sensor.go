package touchreset

// Sensor reports whether the panel is being touched.
type Sensor interface {
	Arm() error
	Touched() (bool, error)
}

// Counter is the subset of the touch controller the monitor uses.
type Counter interface {
	Arm() error
	TouchCount() (uint8, error)
}

// ChipSensor reads the controller's touch count and, optionally, its
// interrupt line. Either one reporting activity counts as a touch.
type ChipSensor struct {
	Chip Counter
	// IntAsserted reports the active-low INT line; nil if not wired.
	IntAsserted func() bool
}

func (s ChipSensor) Arm() error { return s.Chip.Arm() }

func (s ChipSensor) Touched() (bool, error) {
	n, err := s.Chip.TouchCount()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	return s.IntAsserted != nil && s.IntAsserted(), nil
}
