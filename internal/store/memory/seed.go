package memory

import (
	"context"
	"io"

	"github.com/listingchat/chat-app/internal/chat"
)

// Seed loads rooms and profiles from a JSON document. Rooms are saved as
// given; their conversations start empty.
func (s *Store) Seed(ctx context.Context, r io.Reader) error {
	data, err := chat.DecodeSeed(r)
	if err != nil {
		return err
	}
	for i := range data.Rooms {
		if err := s.SaveRoom(ctx, &data.Rooms[i]); err != nil {
			return err
		}
	}
	for _, p := range data.Profiles {
		s.PutProfile(p)
	}
	return nil
}
