package effects

// State is the per-channel animation state. It is replaced with a fresh one
// whenever the channel switches to a different effect.
type State struct {
	Effect     string
	LastUpdate uint32
	Phase      uint32
	Direction  bool
	// Scratch holds the effect specific payload, one of the *XxxState types
	// below, or whatever an externally registered effect allocates.
	Scratch any
}

type BreatheState struct {
	Level  uint8
	Rising bool
}

type WipeState struct {
	Pixel    int
	Clearing bool
}

// OffsetState is shared by the rotating effects (cyclic, rainbow, chase).
type OffsetState struct {
	Offset int
}

// CometState is shared by comet and meteor.
type CometState struct {
	Head int
}

type WaveState struct {
	Position uint8
}

type FireState struct {
	Heat []uint8
}

func newState(id string, fx Effect) *State {
	st := &State{Effect: id}
	if fx.NewScratch != nil {
		st.Scratch = fx.NewScratch()
	}
	return st
}
