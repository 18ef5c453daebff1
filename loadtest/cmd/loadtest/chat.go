package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/listingchat/chat-app/loadtest/client"
	"github.com/listingchat/chat-app/loadtest/stats"
)

type chatOptions struct {
	url         string
	messages    int
	msgInterval time.Duration
	msgSize     int
	joinTimeout time.Duration
}

// runChat drives the room traffic test. Each pair connects to a seeded room,
// the inquirer sends freetext messages and the owner marks every delivery as
// read. It measures join, delivery and seen latency end to end.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 100, "Number of rooms to drive (must not exceed the seeded rooms)")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration across all pairs")
	messages := fs.Int("messages", 8, "Messages each inquirer sends (the server allows 10 per minute)")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages")
	msgSize := fs.Int("msg-size", 64, "Freetext length in characters (max 500)")
	concurrency := fs.Int("concurrency", 50, "Maximum pairs starting at once")
	joinTimeout := fs.Duration("join-timeout", 10*time.Second, "Timeout for connect and join")
	healthURL := fs.String("health", "http://localhost:8080/health", "Server health URL (empty to disable)")
	fs.Parse(args)

	fmt.Printf("Chat test: %d pairs to %s (ramp=%s, messages=%d every %s, size=%d)\n",
		*pairs, *url, *rampUp, *messages, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *healthURL != "" {
		poller := stats.NewHealthPoller(*healthURL, 2*time.Second)
		collector.SetHealthPoller(poller)
		go poller.Run(ctx)
	}

	opts := chatOptions{
		url:         *url,
		messages:    *messages,
		msgInterval: *msgInterval,
		msgSize:     *msgSize,
		joinTimeout: *joinTimeout,
	}

	interval := *rampUp / time.Duration(max(*pairs, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

launch:
	for i := 0; i < *pairs; i++ {
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
			runPair(ctx, i, opts, collector)
		}(i)
		time.Sleep(interval)
	}
	wg.Wait()

	fmt.Printf("\nSent %d messages, delivered %d, seen acks %d\n",
		collector.Count("sent"), collector.Samples(stats.Deliver), collector.Samples(stats.Seen))
	collector.Report()
}

// pairState correlates events of one room across its two connections.
type pairState struct {
	mu       sync.Mutex
	sentAt   map[string]time.Time // tempId -> send time
	readAt   time.Time            // last markAsRead
	received chan struct{}
}

func runPair(ctx context.Context, i int, opts chatOptions, collector *stats.Collector) {
	room := roomID(i)
	st := &pairState{sentAt: make(map[string]time.Time), received: make(chan struct{}, opts.messages)}

	joinCtx, cancel := context.WithTimeout(ctx, opts.joinTimeout)
	defer cancel()

	inq, err := connectAndJoin(joinCtx, opts.url, room, inquirerID(i), collector)
	if err != nil {
		collector.Inc("errors")
		fmt.Printf("  [pair %d] inquirer: %v\n", i, err)
		return
	}
	defer inq.Close()
	own, err := connectAndJoin(joinCtx, opts.url, room, ownerID(i), collector)
	if err != nil {
		collector.Inc("errors")
		fmt.Printf("  [pair %d] owner: %v\n", i, err)
		return
	}
	defer own.Close()

	// The owner acknowledges every delivery; the inquirer times the ack.
	own.On(client.TypeNewMessage, func(data json.RawMessage) {
		var ev struct {
			TempID string `json:"tempId"`
		}
		_ = json.Unmarshal(data, &ev)
		st.mu.Lock()
		sent, ok := st.sentAt[ev.TempID]
		delete(st.sentAt, ev.TempID)
		st.readAt = time.Now()
		st.mu.Unlock()
		if !ok {
			return
		}
		collector.Observe(stats.Deliver, time.Since(sent))
		_ = own.Send(client.TypeMarkAsRead, map[string]string{"roomId": room, "userId": ownerID(i)})
		st.received <- struct{}{}
	})
	inq.On(client.TypeMessagesMarkedAsSeen, func(json.RawMessage) {
		st.mu.Lock()
		readAt := st.readAt
		st.mu.Unlock()
		if !readAt.IsZero() {
			collector.Observe(stats.Seen, time.Since(readAt))
		}
	})

	text := strings.Repeat("x", min(max(opts.msgSize, 1), 500))
	ticker := time.NewTicker(opts.msgInterval)
	defer ticker.Stop()
	for n := 0; n < opts.messages; n++ {
		tempID := fmt.Sprintf("%s-%d", room, n)
		st.mu.Lock()
		st.sentAt[tempID] = time.Now()
		st.mu.Unlock()
		err := inq.Send(client.TypeSendMessage, map[string]string{
			"roomId":      room,
			"sender":      inquirerID(i),
			"senderRole":  "inquirer",
			"messageType": "freetext",
			"text":        text,
			"tempId":      tempID,
		})
		if err != nil {
			collector.Inc("errors")
			return
		}
		collector.Inc("sent")

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	// Give the last deliveries a moment before leaving.
	drain := time.After(2 * time.Second)
	for n := 0; n < opts.messages; n++ {
		select {
		case <-st.received:
		case <-drain:
			n = opts.messages
		}
	}

	_ = inq.Send(client.TypeLeaveRoom, map[string]string{"roomId": room, "userId": inquirerID(i)})
	_ = own.Send(client.TypeLeaveRoom, map[string]string{"roomId": room, "userId": ownerID(i)})

	for _, c := range []*client.Client{inq, own} {
		for code, count := range c.GetMetrics().ServerErrors {
			for k := 0; k < count; k++ {
				collector.Inc("error:" + code)
			}
		}
	}
}

func connectAndJoin(ctx context.Context, url, room, userID string, collector *stats.Collector) (*client.Client, error) {
	start := time.Now()
	c, err := client.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := c.WaitConnected(ctx); err != nil {
		c.Close()
		return nil, err
	}
	collector.Observe(stats.Connect, time.Since(start))

	joined := make(chan struct{}, 1)
	c.On(client.TypeInitialData, func(json.RawMessage) {
		select {
		case joined <- struct{}{}:
		default:
		}
	})
	c.On(client.TypeError, func(data json.RawMessage) {
		var e client.ErrorEvent
		_ = json.Unmarshal(data, &e)
		if e.Code != "rate_limited" {
			fmt.Printf("  [%s] server error %s: %s\n", userID, e.Code, e.Message)
		}
	})

	joinStart := time.Now()
	if err := c.Send(client.TypeJoinUserRoom, map[string]string{"userId": userID}); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.Send(client.TypeJoinRoom, map[string]string{"roomId": room, "userId": userID}); err != nil {
		c.Close()
		return nil, err
	}
	select {
	case <-joined:
		collector.Observe(stats.Join, time.Since(joinStart))
		return c, nil
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("join %s: %w", room, ctx.Err())
	}
}
