// Package lifecycle derives a project's workflow state in the general and APM
// views and builds the flag patches that move it between states.
package lifecycle

import (
	"errors"
	"fmt"

	"bidline/internal/domain"
)

var (
	// ErrInvalidState rejects a transition whose preconditions do not hold.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnknownTransition rejects a transition name that is not defined.
	ErrUnknownTransition = errors.New("unknown transition")
)

// GeneralState is the project's state in the general workflow view.
type GeneralState string

const (
	Active   GeneralState = "active"
	OnHold   GeneralState = "on_hold"
	Archived GeneralState = "archived"
)

// ApmState is the project's state in the APM sub-workflow.
type ApmState string

const (
	ApmNotEnrolled ApmState = "not_in_apm"
	ApmActive      ApmState = "active"
	ApmOnHold      ApmState = "on_hold"
	ApmArchived    ApmState = "archived"
)

var validGeneral = map[GeneralState]bool{Active: true, OnHold: true, Archived: true}
var validApm = map[ApmState]bool{ApmNotEnrolled: true, ApmActive: true, ApmOnHold: true, ApmArchived: true}

// ParseGeneralState accepts "", meaning any state.
func ParseGeneralState(s string) (GeneralState, error) {
	if s == "" || validGeneral[GeneralState(s)] {
		return GeneralState(s), nil
	}
	return "", fmt.Errorf("%w: general state %q", ErrInvalidState, s)
}

// ParseApmState accepts "", meaning any state.
func ParseApmState(s string) (ApmState, error) {
	if s == "" || validApm[ApmState(s)] {
		return ApmState(s), nil
	}
	return "", fmt.Errorf("%w: apm state %q", ErrInvalidState, s)
}

// Flags is the stored boolean representation of both views.
type Flags struct {
	Archived    bool `json:"archived"`
	OnHold      bool `json:"on_hold"`
	SentToApm   bool `json:"sent_to_apm"`
	ApmArchived bool `json:"apm_archived"`
	ApmOnHold   bool `json:"apm_on_hold"`
}

// FlagsOf reads the lifecycle flags off a project.
func FlagsOf(p domain.Project) Flags {
	return Flags{
		Archived:    p.Archived,
		OnHold:      p.OnHold,
		SentToApm:   p.SentToApm,
		ApmArchived: p.ApmArchived,
		ApmOnHold:   p.ApmOnHold,
	}
}

// FlagsFor is the inverse of the derivations: the flags that represent the pair
// of states.
func FlagsFor(general GeneralState, apm ApmState) Flags {
	f := Flags{
		Archived: general == Archived,
		OnHold:   general == OnHold,
	}
	if apm != ApmNotEnrolled && apm != "" {
		f.SentToApm = true
		f.ApmArchived = apm == ApmArchived
		f.ApmOnHold = apm == ApmOnHold
	}
	return f
}

// Validate checks the mutual-exclusion invariants.
func (f Flags) Validate() error {
	if f.Archived && f.OnHold {
		return fmt.Errorf("%w: archived and on hold at once", ErrInvalidState)
	}
	if f.ApmArchived && f.ApmOnHold {
		return fmt.Errorf("%w: archived and on hold in APM at once", ErrInvalidState)
	}
	if !f.SentToApm && (f.ApmArchived || f.ApmOnHold) {
		return fmt.Errorf("%w: APM flags set on a project not sent to APM", ErrInvalidState)
	}
	return nil
}

// DeriveGeneralState classifies the general view. Archived wins for rows that
// carry both flags.
func DeriveGeneralState(f Flags) GeneralState {
	switch {
	case f.Archived:
		return Archived
	case f.OnHold:
		return OnHold
	default:
		return Active
	}
}

// DeriveApmState classifies the APM view.
func DeriveApmState(f Flags) ApmState {
	switch {
	case !f.SentToApm:
		return ApmNotEnrolled
	case f.ApmArchived:
		return ApmArchived
	case f.ApmOnHold:
		return ApmOnHold
	default:
		return ApmActive
	}
}

// States is both derived views of one project.
type States struct {
	General GeneralState `json:"general"`
	Apm     ApmState     `json:"apm"`
}

func Derive(f Flags) States {
	return States{General: DeriveGeneralState(f), Apm: DeriveApmState(f)}
}

// Matches reports whether the project is in the requested states; empty
// filters match everything.
func (s States) Matches(general GeneralState, apm ApmState) bool {
	if general != "" && s.General != general {
		return false
	}
	if apm != "" && s.Apm != apm {
		return false
	}
	return true
}
