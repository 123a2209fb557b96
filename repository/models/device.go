package models

import (
	"context"
	"net"
	"strings"

	gocrud "github.com/tender-barbarian/go-crud"
)

type Device struct {
	ID              int             `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	MACAddress      string          `json:"mac_address" db:"mac_address"`
	Active          bool            `json:"active" db:"active"`
	BonusTimeActive bool            `json:"bonus_time_active" db:"bonus_time_active"`
	Version         int             `json:"version" db:"version"`
	CreatedAt       gocrud.NullTime `json:"created_at" db:"created_at"`
	UpdatedAt       gocrud.NullTime `json:"updated_at" db:"updated_at"`
	gocrud.Reflection
}

// NormalizeMAC lower-cases a colon separated hardware address, or returns
// false if s is not one.
func NormalizeMAC(s string) (string, bool) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil || len(hw) != 6 {
		return "", false
	}
	return hw.String(), true
}

func (d *Device) Validate(ctx context.Context, db gocrud.DBQuerier) error {
	if strings.TrimSpace(d.Name) == "" {
		return ValidationError{msg: "name is required"}
	}

	mac, ok := NormalizeMAC(d.MACAddress)
	if !ok {
		return ValidationError{msg: "mac_address must be a 6 byte hardware address"}
	}
	d.MACAddress = mac

	// Access state is owned by the engine, never by the client.
	if d.ID == 0 {
		d.Active = false
		d.BonusTimeActive = false
		d.Version = 0
	}

	var exists bool
	row := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM devices WHERE mac_address = ? AND id != ?)", mac, d.ID)
	if err := row.Scan(&exists); err != nil {
		return ValidationError{msg: err.Error()}
	}
	if exists {
		return ValidationError{msg: "mac_address already belongs to another device"}
	}

	return nil
}
