package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/listingchat/chat-app/loadtest/client"
	"github.com/listingchat/chat-app/loadtest/stats"
)

type presenceOptions struct {
	url            string
	joinTimeout    time.Duration
	onlineTimeout  time.Duration
	typingInterval time.Duration
}

// roomSession is one seeded room with both participants connected.
type roomSession struct {
	index    int
	inquirer *client.Client
	owner    *client.Client
}

// intact reports how many of the two participants still hold a connection.
func (r *roomSession) intact() int {
	n := 0
	for _, c := range []*client.Client{r.inquirer, r.owner} {
		if c != nil && c.Alive() {
			n++
		}
	}
	return n
}

func (r *roomSession) close() {
	for _, c := range []*client.Client{r.inquirer, r.owner} {
		if c != nil {
			c.Close()
		}
	}
}

// runPresence connects the inquirer and then the owner of every seeded room,
// timing how long the owner's arrival takes to show up in the inquirer's
// onlineStatuses. While holding, owners emit typing indicators so the relay
// path stays busy. Room count is bounded by the seed file the server loaded.
func runPresence(args []string) {
	fs := flag.NewFlagSet("presence", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	rooms := fs.Int("rooms", 500, "Seeded rooms to occupy (two connections each)")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration across all rooms")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration once every room is occupied")
	concurrency := fs.Int("concurrency", 50, "Maximum rooms connecting at once")
	joinTimeout := fs.Duration("join-timeout", 10*time.Second, "Timeout for connect and join")
	onlineTimeout := fs.Duration("online-timeout", 3*time.Second, "How long the inquirer waits to see the owner online")
	typingInterval := fs.Duration("typing-interval", 5*time.Second, "Owner typing indicator interval during hold (0 disables)")
	healthURL := fs.String("health", "http://localhost:8080/health", "Server health URL (empty to disable)")
	fs.Parse(args)

	fmt.Printf("Presence test: %d rooms (%d connections) to %s (ramp=%s, hold=%s)\n",
		*rooms, 2**rooms, *url, *rampUp, *hold)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *healthURL != "" {
		poller := stats.NewHealthPoller(*healthURL, 2*time.Second)
		collector.SetHealthPoller(poller)
		go poller.Run(ctx)
	}

	opts := presenceOptions{
		url:            *url,
		joinTimeout:    *joinTimeout,
		onlineTimeout:  *onlineTimeout,
		typingInterval: *typingInterval,
	}

	sessions := occupyRooms(ctx, *rooms, *rampUp, *concurrency, opts, collector)
	defer func() {
		for _, s := range sessions {
			s.close()
		}
	}()
	fmt.Printf("\nOccupied %d/%d rooms (%d errors)\n", len(sessions), *rooms, collector.Count("errors"))

	if ctx.Err() == nil && len(sessions) > 0 {
		holdRooms(ctx, sessions, *hold, opts, collector)
	}
	collector.Report()
}

// occupyRooms launches room sessions at an even pace and returns the ones
// whose participants both joined.
func occupyRooms(ctx context.Context, rooms int, rampUp time.Duration, concurrency int,
	opts presenceOptions, collector *stats.Collector) []*roomSession {

	interval := rampUp / time.Duration(max(rooms, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}
	sem := make(chan struct{}, max(concurrency, 1))

	var (
		mu       sync.Mutex
		sessions []*roomSession
		wg       sync.WaitGroup
	)
launch:
	for i := 0; i < rooms; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break launch
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			s, err := occupyRoom(ctx, i, opts, collector)
			if err != nil {
				collector.Inc("errors")
				fmt.Printf("  [room %d] %v\n", i, err)
				return
			}
			mu.Lock()
			sessions = append(sessions, s)
			if len(sessions)%100 == 0 {
				fmt.Printf("  [ramp] rooms occupied: %d/%d\n", len(sessions), rooms)
			}
			mu.Unlock()
		}(i)
		time.Sleep(interval)
	}
	wg.Wait()
	return sessions
}

// occupyRoom joins the inquirer first, then the owner, and records how long
// the owner's presence takes to reach the inquirer.
func occupyRoom(ctx context.Context, i int, opts presenceOptions, collector *stats.Collector) (*roomSession, error) {
	room := roomID(i)
	joinCtx, cancel := context.WithTimeout(ctx, opts.joinTimeout)
	defer cancel()

	inq, err := connectAndJoin(joinCtx, opts.url, room, inquirerID(i), collector)
	if err != nil {
		return nil, fmt.Errorf("inquirer: %w", err)
	}
	s := &roomSession{index: i, inquirer: inq}

	ownerSeen := make(chan struct{})
	var once sync.Once
	inq.On(client.TypeOnlineStatuses, func(data json.RawMessage) {
		if showsOnline(data, ownerID(i)) {
			once.Do(func() { close(ownerSeen) })
		}
	})
	inq.On(client.TypeUserTyping, func(json.RawMessage) { collector.Inc("typing relayed") })

	ownerStart := time.Now()
	own, err := connectAndJoin(joinCtx, opts.url, room, ownerID(i), collector)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("owner: %w", err)
	}
	s.owner = own

	select {
	case <-ownerSeen:
		collector.Observe(stats.Online, time.Since(ownerStart))
	case <-time.After(opts.onlineTimeout):
		collector.Inc("online missed")
	case <-ctx.Done():
	}
	return s, nil
}

// showsOnline reports whether an onlineStatuses payload marks userID online.
func showsOnline(data json.RawMessage, userID string) bool {
	var ev struct {
		Statuses map[string]bool `json:"statuses"`
	}
	return json.Unmarshal(data, &ev) == nil && ev.Statuses[userID]
}

// holdRooms keeps every session open for the hold duration, reporting rooms
// that lost a participant.
func holdRooms(ctx context.Context, sessions []*roomSession, hold time.Duration,
	opts presenceOptions, collector *stats.Collector) {

	fmt.Printf("\n--- Holding %d rooms for %s ---\n", len(sessions), hold)
	deadline := time.NewTimer(hold)
	defer deadline.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	var typing <-chan time.Time
	if opts.typingInterval > 0 {
		t := time.NewTicker(opts.typingInterval)
		defer t.Stop()
		typing = t.C
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during hold.")
			return
		case <-deadline.C:
			broken := 0
			for _, s := range sessions {
				if s.intact() < 2 {
					broken++
				}
			}
			fmt.Printf("\nHold complete: %d/%d rooms lost a participant\n", broken, len(sessions))
			for k := 0; k < broken; k++ {
				collector.Inc("rooms broken")
			}
			return
		case <-status.C:
			alive := 0
			for _, s := range sessions {
				alive += s.intact()
			}
			fmt.Printf("  [hold] connections alive: %d/%d\n", alive, 2*len(sessions))
		case <-typing:
			for _, s := range sessions {
				if s.owner.Alive() {
					_ = s.owner.Send(client.TypeTyping, map[string]interface{}{
						"roomId": roomID(s.index), "userId": ownerID(s.index), "isTyping": true,
					})
					collector.Inc("typing sent")
				}
			}
		}
	}
}
