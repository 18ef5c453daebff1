package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

type seedRoom struct {
	ID           string   `json:"id"`
	ListingID    string   `json:"listingId"`
	Participants []string `json:"participants"`
}

type seedProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// runSeed writes the rooms and profiles the chat command expects.
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	rooms := fs.Int("rooms", 500, "Number of rooms (two users each)")
	out := fs.String("out", "seed.json", "Output file")
	fs.Parse(args)

	doc := struct {
		Rooms    []seedRoom    `json:"rooms"`
		Profiles []seedProfile `json:"profiles"`
	}{}
	for i := 0; i < *rooms; i++ {
		doc.Rooms = append(doc.Rooms, seedRoom{
			ID:           roomID(i),
			ListingID:    fmt.Sprintf("lt-listing-%d", i),
			Participants: []string{inquirerID(i), ownerID(i)},
		})
		doc.Profiles = append(doc.Profiles,
			seedProfile{ID: inquirerID(i), Name: fmt.Sprintf("Inquirer %d", i)},
			seedProfile{ID: ownerID(i), Name: fmt.Sprintf("Owner %d", i)},
		)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *out, err)
		os.Exit(1)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d rooms and %d profiles to %s\n", len(doc.Rooms), len(doc.Profiles), *out)
}
