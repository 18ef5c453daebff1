package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeSender struct {
	jobs []Job
	err  error
}

func (s *fakeSender) Send(_ context.Context, job Job) error {
	s.jobs = append(s.jobs, job)
	return s.err
}

type fakeResults struct {
	rooms []string
	res   []Result
}

func (r *fakeResults) PublishPushResult(roomID string, data []byte) error {
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	r.rooms = append(r.rooms, roomID)
	r.res = append(r.res, res)
	return nil
}

func jobBytes(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(Job{
		PushToken:    "ExponentPushToken[x]",
		Notification: Notification{SenderName: "Ana", Message: "hi", RoomID: "R", SenderID: "U1"},
		QueuedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestWorker_Handle(t *testing.T) {
	tests := []struct {
		name      string
		sendErr   error
		delivered bool
	}{
		{"delivered", nil, true},
		{"gateway failure", errors.New("gateway: status 500"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{err: tt.sendErr}
			results := &fakeResults{}
			NewWorker(sender, results, time.Second).Handle(jobBytes(t))

			if len(sender.jobs) != 1 || sender.jobs[0].PushToken != "ExponentPushToken[x]" {
				t.Fatalf("sent jobs = %+v", sender.jobs)
			}
			if len(results.res) != 1 || results.rooms[0] != "R" {
				t.Fatalf("results = %+v", results.res)
			}
			if got := results.res[0]; got.Delivered != tt.delivered || (got.Error != "") == tt.delivered {
				t.Fatalf("result = %+v", got)
			}
		})
	}
}

func TestWorker_DropsMalformedJob(t *testing.T) {
	sender := &fakeSender{}
	NewWorker(sender, nil, 0).Handle([]byte(`{not json`))
	if len(sender.jobs) != 0 {
		t.Fatalf("malformed job was sent: %+v", sender.jobs)
	}
}
