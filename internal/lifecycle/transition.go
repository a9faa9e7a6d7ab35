package lifecycle

import "fmt"

// Transition names one lifecycle move.
type Transition string

const (
	Archive  Transition = "archive"
	Hold     Transition = "hold"
	Activate Transition = "activate"

	ApmSend     Transition = "apm_send"
	ApmArchive  Transition = "apm_archive"
	ApmHold     Transition = "apm_hold"
	ApmActivate Transition = "apm_activate"
	ApmRemove   Transition = "apm_remove"
)

// View is the lifecycle dimension a transition acts on.
type View string

const (
	ViewGeneral View = "general"
	ViewApm     View = "apm"
)

type transitionInfo struct {
	view View
	verb string
}

var transitions = map[Transition]transitionInfo{
	Archive:     {ViewGeneral, "archive"},
	Hold:        {ViewGeneral, "put on hold"},
	Activate:    {ViewGeneral, "activate"},
	ApmSend:     {ViewApm, "send to APM"},
	ApmArchive:  {ViewApm, "archive in APM"},
	ApmHold:     {ViewApm, "put on hold in APM"},
	ApmActivate: {ViewApm, "activate in APM"},
	ApmRemove:   {ViewApm, "remove from APM"},
}

// AllTransitions in display order.
var AllTransitions = []Transition{Archive, Hold, Activate, ApmSend, ApmArchive, ApmHold, ApmActivate, ApmRemove}

// ParseTransition validates a transition name.
func ParseTransition(s string) (Transition, error) {
	t := Transition(s)
	if _, ok := transitions[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTransition, s)
	}
	return t, nil
}

// Verb is the phrase used in user-facing results, e.g. "put on hold".
func (t Transition) Verb() string {
	if info, ok := transitions[t]; ok {
		return info.verb
	}
	return string(t)
}

func (t Transition) View() View {
	return transitions[t].view
}

// FlagPatch is a flag diff; nil fields are left untouched.
type FlagPatch struct {
	Archived    *bool `json:"archived,omitempty"`
	OnHold      *bool `json:"on_hold,omitempty"`
	SentToApm   *bool `json:"sent_to_apm,omitempty"`
	ApmArchived *bool `json:"apm_archived,omitempty"`
	ApmOnHold   *bool `json:"apm_on_hold,omitempty"`
}

func set(v bool) *bool { return &v }

func (p FlagPatch) IsEmpty() bool {
	return p.Archived == nil && p.OnHold == nil && p.SentToApm == nil && p.ApmArchived == nil && p.ApmOnHold == nil
}

// Apply returns f with the patch applied.
func (p FlagPatch) Apply(f Flags) Flags {
	if p.Archived != nil {
		f.Archived = *p.Archived
	}
	if p.OnHold != nil {
		f.OnHold = *p.OnHold
	}
	if p.SentToApm != nil {
		f.SentToApm = *p.SentToApm
	}
	if p.ApmArchived != nil {
		f.ApmArchived = *p.ApmArchived
	}
	if p.ApmOnHold != nil {
		f.ApmOnHold = *p.ApmOnHold
	}
	return f
}

// Fields lists the column values set by the patch.
func (p FlagPatch) Fields() map[string]bool {
	out := map[string]bool{}
	if p.Archived != nil {
		out["archived"] = *p.Archived
	}
	if p.OnHold != nil {
		out["on_hold"] = *p.OnHold
	}
	if p.SentToApm != nil {
		out["sent_to_apm"] = *p.SentToApm
	}
	if p.ApmArchived != nil {
		out["apm_archived"] = *p.ApmArchived
	}
	if p.ApmOnHold != nil {
		out["apm_on_hold"] = *p.ApmOnHold
	}
	return out
}

// PatchFor returns the patch a transition writes, without checking the current
// flags. Use RequestTransition when the current flags are known.
func PatchFor(t Transition) (FlagPatch, error) {
	switch t {
	case Archive:
		return FlagPatch{Archived: set(true), OnHold: set(false)}, nil
	case Hold:
		return FlagPatch{OnHold: set(true), Archived: set(false)}, nil
	case Activate:
		return FlagPatch{Archived: set(false), OnHold: set(false)}, nil
	case ApmSend:
		return FlagPatch{SentToApm: set(true)}, nil
	case ApmArchive:
		return FlagPatch{ApmArchived: set(true), ApmOnHold: set(false)}, nil
	case ApmHold:
		return FlagPatch{ApmOnHold: set(true), ApmArchived: set(false)}, nil
	case ApmActivate:
		return FlagPatch{ApmArchived: set(false), ApmOnHold: set(false)}, nil
	case ApmRemove:
		return FlagPatch{SentToApm: set(false), ApmArchived: set(false), ApmOnHold: set(false)}, nil
	default:
		return FlagPatch{}, fmt.Errorf("%w: %q", ErrUnknownTransition, string(t))
	}
}

// RequestTransition checks the transition against the current flags and
// returns the patch to persist. APM moves other than ApmSend require the
// project to be sent to APM. Re-requesting the current state is allowed and
// yields a patch that rewrites the same values.
func RequestTransition(current Flags, t Transition) (FlagPatch, error) {
	patch, err := PatchFor(t)
	if err != nil {
		return FlagPatch{}, err
	}
	if err := current.Validate(); err != nil {
		return FlagPatch{}, err
	}
	switch t {
	case ApmArchive, ApmHold, ApmActivate:
		if !current.SentToApm {
			return FlagPatch{}, fmt.Errorf("%w: project is not in APM", ErrInvalidState)
		}
	}
	if err := patch.Apply(current).Validate(); err != nil {
		return FlagPatch{}, err
	}
	return patch, nil
}

// AvailableTransitions lists the moves that change the project's state, i.e.
// the actions a screen offers.
func AvailableTransitions(f Flags) []Transition {
	states := Derive(f)
	var out []Transition
	if states.General != Archived {
		out = append(out, Archive)
	}
	if states.General != OnHold {
		out = append(out, Hold)
	}
	if states.General != Active {
		out = append(out, Activate)
	}
	if states.Apm == ApmNotEnrolled {
		return append(out, ApmSend)
	}
	if states.Apm != ApmArchived {
		out = append(out, ApmArchive)
	}
	if states.Apm != ApmOnHold {
		out = append(out, ApmHold)
	}
	if states.Apm != ApmActive {
		out = append(out, ApmActivate)
	}
	return append(out, ApmRemove)
}
