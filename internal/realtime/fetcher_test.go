package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"nexttrain/internal/feed"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func feedBody(t *testing.T, trips ...string) []byte {
	t.Helper()
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(time.Now().Unix())),
		},
	}
	for _, id := range trips {
		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
			Id: proto.String(id),
			TripUpdate: &gtfs.TripUpdate{
				Trip: &gtfs.TripDescriptor{TripId: proto.String(id)},
				StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{{
					StopId:  proto.String("1"),
					Arrival: &gtfs.TripUpdate_StopTimeEvent{Time: proto.Int64(time.Now().Add(10 * time.Minute).Unix())},
				}},
			},
		})
	}
	body, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal feed: %v", err)
	}
	return body
}

type recordingObserver struct {
	mu    sync.Mutex
	calls int
	errs  int
	trips int
}

func (o *recordingObserver) FetchObserved(d time.Duration, tripUpdates int, age time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err != nil {
		o.errs++
	}
	o.trips = tripUpdates
}

func TestFetch(t *testing.T) {
	body := feedBody(t, "GO1", "GO2")
	keys := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("x-api-key")
		w.Write(body)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	f := NewFetcher(srv.URL, "secret", 5*time.Second, obs, discard)

	snap, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.TripUpdates) != 2 {
		t.Errorf("len(TripUpdates) = %d, want 2", len(snap.TripUpdates))
	}
	if gotKey := <-keys; gotKey != "secret" {
		t.Errorf("x-api-key = %q, want %q", gotKey, "secret")
	}
	if obs.calls != 1 || obs.errs != 0 || obs.trips != 2 {
		t.Errorf("observer = %+v, want one successful fetch of 2 trips", obs)
	}
}

func TestFetch_NoAPIKey(t *testing.T) {
	body := feedBody(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["X-Api-Key"]; ok {
			t.Error("x-api-key header should not be sent without a key")
		}
		w.Write(body)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, "", 5*time.Second, nil, discard)
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-200", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}},
		{"not protobuf", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>maintenance</html>"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			obs := &recordingObserver{}
			f := NewFetcher(srv.URL, "", 5*time.Second, obs, discard)
			if _, err := f.Fetch(context.Background()); err == nil {
				t.Error("Fetch should return an error")
			}
			if obs.errs != 1 {
				t.Errorf("observer errors = %d, want 1", obs.errs)
			}
		})
	}
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewFetcher(url, "", time.Second, nil, discard)
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Error("Fetch against a closed server should return an error")
	}
}

func TestStart(t *testing.T) {
	body := feedBody(t, "GO1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	f := NewFetcher(srv.URL, "", 5*time.Second, nil, discard)

	updates := make(chan feed.Snapshot, 1)
	done := make(chan struct{})
	go func() {
		f.Start(ctx, time.Hour, store, func(s feed.Snapshot) {
			select {
			case updates <- s:
			default:
			}
		})
		close(done)
	}()

	select {
	case s := <-updates:
		if len(s.TripUpdates) != 1 {
			t.Errorf("len(TripUpdates) = %d, want 1", len(s.TripUpdates))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update within 5s")
	}

	select {
	case <-store.Ready():
	default:
		t.Error("store should be ready after the first fetch")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
