package chat

import (
	"encoding/json"
	"fmt"
	"io"
)

// SeedData is a fixture of rooms and profiles loaded at startup for local
// runs and load tests.
type SeedData struct {
	Rooms    []Room    `json:"rooms"`
	Profiles []Profile `json:"profiles"`
}

// DecodeSeed reads a seed document. Every room needs an id and two
// participants; rooms without a status start pending.
func DecodeSeed(r io.Reader) (*SeedData, error) {
	var data SeedData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: decode seed: %v", ErrInvalidArgument, err)
	}
	for i := range data.Rooms {
		room := &data.Rooms[i]
		if room.ID == "" || len(room.Participants) < 2 {
			return nil, fmt.Errorf("%w: seed room %d needs an id and two participants", ErrInvalidArgument, i)
		}
		if room.Status == "" {
			room.Status = RoomPending
		}
	}
	for i, p := range data.Profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: seed profile %d has no id", ErrInvalidArgument, i)
		}
	}
	return &data, nil
}
