package repo

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"bidline/internal/domain"
	"bidline/internal/events"
	"bidline/internal/followup"
)

// Snapshot is the YAML seed format accepted by `bidline import`.
type Snapshot struct {
	Vendors  []SnapshotVendor  `yaml:"vendors" validate:"dive"`
	Projects []SnapshotProject `yaml:"projects" validate:"dive"`
}

type SnapshotVendor struct {
	ID          int64  `yaml:"id" validate:"required,gt=0"`
	CompanyName string `yaml:"company_name" validate:"required"`
	ContactName string `yaml:"contact_name"`
	Email       string `yaml:"email" validate:"omitempty,email"`
	Phone       string `yaml:"phone"`
}

type SnapshotProject struct {
	ID                int64                `yaml:"id" validate:"gte=0"`
	Name              string               `yaml:"name" validate:"required"`
	Address           string               `yaml:"address"`
	GeneralContractor string               `yaml:"general_contractor"`
	BidDate           string               `yaml:"bid_date"`
	Archived          bool                 `yaml:"archived"`
	OnHold            bool                 `yaml:"on_hold"`
	SentToApm         bool                 `yaml:"sent_to_apm"`
	ApmArchived       bool                 `yaml:"apm_archived"`
	ApmOnHold         bool                 `yaml:"apm_on_hold"`
	Assignments       []SnapshotAssignment `yaml:"vendors" validate:"dive"`
}

type SnapshotAssignment struct {
	VendorID             int64           `yaml:"vendor_id" validate:"required,gt=0"`
	CloseoutReceivedDate string          `yaml:"closeout_received_date"`
	FollowUpDate         string          `yaml:"follow_up_date"`
	Phases               []SnapshotPhase `yaml:"phases" validate:"dive"`
}

type SnapshotPhase struct {
	Name          string `yaml:"name" validate:"required"`
	Status        string `yaml:"status" validate:"omitempty,oneof=pending requested received completed"`
	RequestedDate string `yaml:"requested_date"`
	FollowUpDate  string `yaml:"follow_up_date"`
	ReceivedDate  string `yaml:"received_date"`
}

// ImportStats counts what ImportSnapshot created.
type ImportStats struct {
	Vendors     int `json:"vendors"`
	Projects    int `json:"projects"`
	Assignments int `json:"assignments"`
	Phases      int `json:"phases"`
}

// LoadSnapshot reads and validates a snapshot file.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	return ParseSnapshot(data)
}

func ParseSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks field tags and that every date parses as YYYY-MM-DD.
func (s Snapshot) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	checkDate := func(where, v string) error {
		if v == "" {
			return nil
		}
		if _, ok := followup.ParseDate(v); !ok {
			return fmt.Errorf("invalid snapshot: %s: bad date %q", where, v)
		}
		return nil
	}
	for _, p := range s.Projects {
		if err := checkDate("project "+p.Name+" bid_date", p.BidDate); err != nil {
			return err
		}
		for _, a := range p.Assignments {
			if err := checkDate(fmt.Sprintf("project %s vendor %d closeout", p.Name, a.VendorID), a.CloseoutReceivedDate); err != nil {
				return err
			}
			if err := checkDate(fmt.Sprintf("project %s vendor %d follow_up_date", p.Name, a.VendorID), a.FollowUpDate); err != nil {
				return err
			}
			for _, ph := range a.Phases {
				for _, d := range []string{ph.RequestedDate, ph.FollowUpDate, ph.ReceivedDate} {
					if err := checkDate(fmt.Sprintf("project %s phase %s", p.Name, ph.Name), d); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// ImportSnapshot inserts every entity of the snapshot and records one
// snapshot.imported event.
func (r Repo) ImportSnapshot(ctx context.Context, s Snapshot, actorID string) (ImportStats, error) {
	var stats ImportStats
	for _, v := range s.Vendors {
		if _, err := r.InsertVendor(ctx, domain.Vendor{
			ID:          v.ID,
			CompanyName: v.CompanyName,
			ContactName: v.ContactName,
			Email:       v.Email,
			Phone:       v.Phone,
		}); err != nil {
			return stats, err
		}
		stats.Vendors++
	}
	for _, sp := range s.Projects {
		p, err := r.InsertProject(ctx, domain.Project{
			ID:                sp.ID,
			Name:              sp.Name,
			Address:           sp.Address,
			GeneralContractor: sp.GeneralContractor,
			BidDate:           optional(sp.BidDate),
			Archived:          sp.Archived,
			OnHold:            sp.OnHold,
			SentToApm:         sp.SentToApm,
			ApmArchived:       sp.ApmArchived,
			ApmOnHold:         sp.ApmOnHold,
		})
		if err != nil {
			return stats, fmt.Errorf("project %q: %w", sp.Name, err)
		}
		stats.Projects++
		for _, sa := range sp.Assignments {
			a := domain.VendorAssignment{
				ProjectID:            p.ID,
				VendorID:             sa.VendorID,
				CloseoutReceivedDate: optional(sa.CloseoutReceivedDate),
				FollowUpDate:         optional(sa.FollowUpDate),
			}
			for _, ph := range sa.Phases {
				a.Phases = append(a.Phases, domain.Phase{
					PhaseName:     ph.Name,
					Status:        domain.PhaseStatus(ph.Status),
					RequestedDate: optional(ph.RequestedDate),
					FollowUpDate:  optional(ph.FollowUpDate),
					ReceivedDate:  optional(ph.ReceivedDate),
				})
			}
			if _, err := r.InsertAssignment(ctx, a); err != nil {
				return stats, fmt.Errorf("project %q vendor %d: %w", sp.Name, sa.VendorID, err)
			}
			stats.Assignments++
			stats.Phases += len(a.Phases)
		}
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()
	if err := r.Events.Append(ctx, tx, events.Entry{
		Type:       events.SnapshotImported,
		EntityKind: "snapshot",
		ActorID:    actorID,
		Payload: events.EventPayload{
			"vendors":     stats.Vendors,
			"projects":    stats.Projects,
			"assignments": stats.Assignments,
			"phases":      stats.Phases,
		},
	}); err != nil {
		return stats, err
	}
	return stats, tx.Commit()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
