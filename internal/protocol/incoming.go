package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/aplbridge/internal/core"
)

// Kind is the type tag of an incoming message.
type Kind string

// Incoming message types (view host → bridge).
const (
	KindBuild                   Kind = "build"
	KindUpdate                  Kind = "update"
	KindUpdateMedia             Kind = "updateMedia"
	KindUpdateGraphic           Kind = "updateGraphic"
	KindResponse                Kind = "response"
	KindEnsureLayout            Kind = "ensureLayout"
	KindScrollToRectInComponent Kind = "scrollToRectInComponent"
	KindHandleKeyboard          Kind = "handleKeyboard"
	KindUpdateCursorPosition    Kind = "updateCursorPosition"
)

// Incoming is the closed set of parsed view-host messages. Each concrete
// type carries only validated fields.
type Incoming interface {
	Kind() Kind
	isIncoming()
}

// Build is the view host's surface description; it triggers inflation.
type Build struct {
	Width            float64
	Height           float64
	DPI              float64
	Shape            string
	Mode             string
	AgentName        string
	AgentVersion     string
	AllowOpenURL     bool
	DisallowVideo    bool
	AnimationQuality string
}

// Update is a component property change originated by the view host.
type Update struct {
	ID    string
	Type  core.UpdateType
	Value float64
}

// UpdateMedia reports media playback state.
type UpdateMedia struct {
	ID        string
	State     core.MediaState
	FromEvent bool
}

// UpdateGraphic delivers a vector graphic document.
type UpdateGraphic struct {
	ID  string
	AVG string
}

// Response settles a pending engine event. At most one of Rect and
// Argument is set; Rect wins when the view host sends both.
type Response struct {
	Token    uint64
	Rect     *core.Rect
	Argument *int
}

// EnsureLayout asks the engine to lay out a component.
type EnsureLayout struct {
	ID string
}

// ScrollToRectInComponent scrolls a rectangle (view-host px) into view.
type ScrollToRectInComponent struct {
	ID    string
	Rect  core.Rect
	Align string
}

// HandleKeyboard is a key event.
type HandleKeyboard struct {
	Type     core.KeyHandlerType
	Keyboard core.Keyboard
}

// UpdateCursorPosition moves the pointer cursor (view-host px).
type UpdateCursorPosition struct {
	Point core.Point
}

func (Build) Kind() Kind                   { return KindBuild }
func (Update) Kind() Kind                  { return KindUpdate }
func (UpdateMedia) Kind() Kind             { return KindUpdateMedia }
func (UpdateGraphic) Kind() Kind           { return KindUpdateGraphic }
func (Response) Kind() Kind                { return KindResponse }
func (EnsureLayout) Kind() Kind            { return KindEnsureLayout }
func (ScrollToRectInComponent) Kind() Kind { return KindScrollToRectInComponent }
func (HandleKeyboard) Kind() Kind          { return KindHandleKeyboard }
func (UpdateCursorPosition) Kind() Kind    { return KindUpdateCursorPosition }

func (Build) isIncoming()                   {}
func (Update) isIncoming()                  {}
func (UpdateMedia) isIncoming()             {}
func (UpdateGraphic) isIncoming()           {}
func (Response) isIncoming()                {}
func (EnsureLayout) isIncoming()            {}
func (ScrollToRectInComponent) isIncoming() {}
func (HandleKeyboard) isIncoming()          {}
func (UpdateCursorPosition) isIncoming()    {}

type envelope struct {
	Type    string          `json:"type"`
	Seqno   *uint64         `json:"seqno"`
	Payload json.RawMessage `json:"payload"`
}

// Parse decodes and validates an incoming envelope. Failures are always a
// *ParseError; callers log and drop.
func Parse(raw []byte) (Incoming, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ParseError{Code: ErrCodeMalformed, Message: err.Error()}
	}
	if env.Type == "" {
		return nil, &ParseError{Code: ErrCodeMissingType, Message: "envelope has no type"}
	}

	kind := Kind(env.Type)
	decode, ok := decoders[kind]
	if !ok {
		return nil, &ParseError{Code: ErrCodeUnknownType, Type: env.Type, Message: "no handler for message type"}
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, missing(env.Type, "payload")
	}
	msg, err := decode(env.Payload)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			return nil, pe
		}
		return nil, &ParseError{Code: ErrCodeMalformed, Type: env.Type, Message: err.Error()}
	}
	return msg, nil
}

var decoders = map[Kind]func(json.RawMessage) (Incoming, error){
	KindBuild:                   decodeBuild,
	KindUpdate:                  decodeUpdate,
	KindUpdateMedia:             decodeUpdateMedia,
	KindUpdateGraphic:           decodeUpdateGraphic,
	KindResponse:                decodeResponse,
	KindEnsureLayout:            decodeEnsureLayout,
	KindScrollToRectInComponent: decodeScrollToRect,
	KindHandleKeyboard:          decodeHandleKeyboard,
	KindUpdateCursorPosition:    decodeUpdateCursor,
}

func decodeBuild(p json.RawMessage) (Incoming, error) {
	var w struct {
		Width  *float64 `json:"width"`
		Height *float64 `json:"height"`
		DPI    float64  `json:"dpi"`
		Shape  string   `json:"shape"`
		Mode   string   `json:"mode"`
		Agent  struct {
			Name    string `json:"agentName"`
			Version string `json:"agentVersion"`
		} `json:"agent"`
		Options struct {
			AllowOpenURL     bool   `json:"allowOpenUrl"`
			DisallowVideo    bool   `json:"disallowVideo"`
			AnimationQuality string `json:"animationQuality"`
		} `json:"options"`
	}
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, err
	}
	if w.Width == nil {
		return nil, missing(string(KindBuild), "width")
	}
	if w.Height == nil {
		return nil, missing(string(KindBuild), "height")
	}
	return Build{
		Width:            *w.Width,
		Height:           *w.Height,
		DPI:              w.DPI,
		Shape:            w.Shape,
		Mode:             w.Mode,
		AgentName:        w.Agent.Name,
		AgentVersion:     w.Agent.Version,
		AllowOpenURL:     w.Options.AllowOpenURL,
		DisallowVideo:    w.Options.DisallowVideo,
		AnimationQuality: w.Options.AnimationQuality,
	}, nil
}

func decodeUpdate(p json.RawMessage) (Incoming, error) {
	var w struct {
		ID    string   `json:"id"`
		Type  *int     `json:"type"`
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, missing(string(KindUpdate), "id")
	}
	if w.Type == nil {
		return nil, missing(string(KindUpdate), "type")
	}
	u := Update{ID: w.ID, Type: core.UpdateType(*w.Type)}
	if w.Value != nil {
		u.Value = *w.Value
	}
	return u, nil
}

func decodeUpdateMedia(p json.RawMessage) (Incoming, error) {
	var w struct {
		ID        string           `json:"id"`
		State     *core.MediaState `json:"mediaState"`
		FromEvent bool             `json:"fromEvent"`
	}
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, missing(string(KindUpdateMedia), "id")
	}
	if w.State == nil {
		return nil, missing(string(KindUpdateMedia), "mediaState")
	}
	return UpdateMedia{ID: w.ID, State: *w.State, FromEvent: w.FromEvent}, nil
}

func decodeUpdateGraphic(p json.RawMessage) (Incoming, error) {
	var w struct {
		ID  string  `json:"id"`
		AVG *string `json:"avg"`
	}
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, missing(string(KindUpdateGraphic), "id")
	}
	if w.AVG == nil {
		return nil, missing(string(KindUpdateGraphic), "avg")
	}
	return UpdateGraphic{ID: w.ID, AVG: *w.AVG}, nil
}

func decodeResponse(p json.RawMessage) (Incoming, error) {
	var w struct {
		Token    *uint64    `json:"token"`
		Rect     *core.Rect `json:"rectArgument"`
		Argument *int       `json:"argument"`
	}
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, err
	}
	if w.Token == nil {
		return nil, missing(string(KindResponse), "token")
	}
	r := Response{Token: *w.Token}
	switch {
	case w.Rect != nil:
		r.Rect = w.Rect
	case w.Argument != nil:
		r.Argument = w.Argument
	}
	return r, nil
}

func decodeEnsureLayout(p json.RawMessage) (Incoming, error) {
	var w struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, missing(string(KindEnsureLayout), "id")
	}
	return EnsureLayout{ID: w.ID}, nil
}

func decodeScrollToRect(p json.RawMessage) (Incoming, error) {
	var w struct {
		ID     string   `json:"id"`
		X      *float64 `json:"x"`
		Y      *float64 `json:"y"`
		Width  *float64 `json:"width"`
		Height *float64 `json:"height"`
		Align  string   `json:"align"`
	}
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, missing(string(KindScrollToRectInComponent), "id")
	}
	for name, v := range map[string]*float64{"x": w.X, "y": w.Y, "width": w.Width, "height": w.Height} {
		if v == nil {
			return nil, missing(string(KindScrollToRectInComponent), name)
		}
	}
	align := w.Align
	if align == "" {
		align = "visible"
	}
	return ScrollToRectInComponent{
		ID:    w.ID,
		Rect:  core.Rect{X: *w.X, Y: *w.Y, Width: *w.Width, Height: *w.Height},
		Align: align,
	}, nil
}

func decodeHandleKeyboard(p json.RawMessage) (Incoming, error) {
	var w struct {
		KeyType *int `json:"keyType"`
		core.Keyboard
	}
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, err
	}
	if w.KeyType == nil {
		return nil, missing(string(KindHandleKeyboard), "keyType")
	}
	kt := core.KeyHandlerType(*w.KeyType)
	if kt != core.KeyDown && kt != core.KeyUp {
		return nil, &ParseError{Code: ErrCodeMalformed, Type: string(KindHandleKeyboard), Message: fmt.Sprintf("invalid keyType %d", *w.KeyType)}
	}
	return HandleKeyboard{Type: kt, Keyboard: w.Keyboard}, nil
}

func decodeUpdateCursor(p json.RawMessage) (Incoming, error) {
	var w struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, err
	}
	if w.X == nil || w.Y == nil {
		return nil, missing(string(KindUpdateCursorPosition), "x/y")
	}
	return UpdateCursorPosition{Point: core.Point{X: *w.X, Y: *w.Y}}, nil
}
