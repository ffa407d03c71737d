package types

// Outbound is an event the viewer emits on the control channel.
type Outbound interface {
	Event() string
}

// Modifiers are the keyboard modifier flags sent with every input event.
type Modifiers struct {
	Alt   bool `json:"altKey"`
	Ctrl  bool `json:"ctrlKey"`
	Meta  bool `json:"metaKey"`
	Shift bool `json:"shiftKey"`
}

// Lock requests. They carry an empty object so handlers that expect a
// payload argument still receive one.
type (
	TakeControl    struct{}
	ReleaseControl struct{}
	PauseAgent     struct{}
	ResumeAgent    struct{}
)

// InputClick is a pointer press in surface coordinates.
type InputClick struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Button     string  `json:"button"`
	ClickCount int     `json:"click_count"`
	Modifiers
}

// InputMove is a throttled pointer move.
type InputMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Modifiers
}

// InputWheel carries pixel-normalized scroll deltas.
type InputWheel struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	DeltaX float64 `json:"delta_x"`
	DeltaY float64 `json:"delta_y"`
	Modifiers
}

type InputKeyDown struct {
	Key    string `json:"key"`
	Code   string `json:"code"`
	Repeat bool   `json:"repeat"`
	Modifiers
}

type InputKeyUp struct {
	Key  string `json:"key"`
	Code string `json:"code"`
	Modifiers
}

// InputType inserts text on the remote side.
type InputType struct {
	Text string `json:"text"`
}

func (TakeControl) Event() string    { return EventTakeControl }
func (ReleaseControl) Event() string { return EventReleaseControl }
func (PauseAgent) Event() string     { return EventPauseAgent }
func (ResumeAgent) Event() string    { return EventResumeAgent }
func (InputClick) Event() string     { return EventInputClick }
func (InputMove) Event() string      { return EventInputMove }
func (InputWheel) Event() string     { return EventInputWheel }
func (InputKeyDown) Event() string   { return EventInputKeyDown }
func (InputKeyUp) Event() string     { return EventInputKeyUp }
func (InputType) Event() string      { return EventInputType }
