package status

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/example/ai-radar/internal/logging"
)

type recordingSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Render(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) versions() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Version)
	}
	return out
}

func (s *recordingSink) last() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return Record{}
	}
	return s.records[len(s.records)-1]
}

type slowSink struct {
	delay    time.Duration
	started  chan uint64
	rendered chan Record
}

func (s *slowSink) Name() string { return "slow" }

func (s *slowSink) Render(ctx context.Context, rec Record) error {
	s.started <- rec.Version
	time.Sleep(s.delay)
	s.rendered <- rec
	return nil
}

func TestPublishOverwritesInPlace(t *testing.T) {
	sink := &recordingSink{}
	surface := NewSurface(zap.NewNop(), Options{Sinks: []Sink{sink}})

	surface.Publish("Analiz Ediliyor...", "Görüntü işleniyor...")
	surface.Publish("Analiz Tamamlandı", "Yapaylık Skoru: %87")

	got := surface.Current()
	if got.Title != "Analiz Tamamlandı" || got.Body != "Yapaylık Skoru: %87" {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}

	surface.Close()
	if last := sink.last(); last.Version != 2 || last.Body != "Yapaylık Skoru: %87" {
		t.Fatalf("expected sink to end on version 2, got %+v", last)
	}
}

func TestPublishDoesNotWaitForSinks(t *testing.T) {
	sink := &slowSink{delay: 300 * time.Millisecond, started: make(chan uint64, 8), rendered: make(chan Record, 8)}
	surface := NewSurface(zap.NewNop(), Options{Sinks: []Sink{sink}})
	defer surface.Close()

	surface.Publish("Analiz Ediliyor...", "Görüntü işleniyor...")
	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatal("renderer never picked up the first record")
	}

	// The sink is now busy rendering version 1.
	start := time.Now()
	surface.Publish("Hata", "Görüntü alınamadı.")
	surface.Publish("Analiz Tamamlandı", "Yapaylık Skoru: %87")
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("publish blocked on sink for %v", elapsed)
	}
	if got := surface.Current(); got.Version != 3 {
		t.Fatalf("expected version 3 immediately, got %+v", got)
	}

	var seen []uint64
	deadline := time.After(3 * time.Second)
	for len(seen) == 0 || seen[len(seen)-1] != 3 {
		select {
		case rec := <-sink.rendered:
			seen = append(seen, rec.Version)
		case <-deadline:
			t.Fatalf("sink never rendered the latest record, saw %v", seen)
		}
	}
	// Version 2 was replaced before the renderer got to it.
	if len(seen) != 2 || seen[0] != 1 {
		t.Fatalf("expected versions [1 3], got %v", seen)
	}
}

func TestPublishAfterCloseSkipsSinks(t *testing.T) {
	sink := &recordingSink{}
	surface := NewSurface(zap.NewNop(), Options{Sinks: []Sink{sink}})
	surface.Close()
	surface.Close()

	rec := surface.Publish("Radar Kapalı", "Ekran izni geri alındı.")
	if rec.Version != 1 || surface.Current().Title != "Radar Kapalı" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if n := len(sink.versions()); n != 0 {
		t.Fatalf("expected no renders after close, got %d", n)
	}
}

func TestPublishToleratesSinkFailure(t *testing.T) {
	failing := &recordingSink{err: errors.New("redis down")}
	healthy := &recordingSink{}
	surface := NewSurface(zap.NewNop(), Options{Sinks: []Sink{failing, healthy}})

	surface.Publish("Hata", "Sistem reddetti.")
	surface.Close()
	if len(healthy.versions()) != 1 {
		t.Fatalf("expected healthy sink to render despite failure, got %d", len(healthy.versions()))
	}
}

func TestConcurrentPublishesKeepOneWholeRecord(t *testing.T) {
	sink := &recordingSink{}
	surface := NewSurface(zap.NewNop(), Options{Sinks: []Sink{sink}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				surface.Publish("even", "even body")
			} else {
				surface.Publish("odd", "odd body")
			}
		}(i)
	}
	wg.Wait()
	surface.Close()

	got := surface.Current()
	if !strings.HasPrefix(got.Body, got.Title) {
		t.Fatalf("title and body from different writes: %+v", got)
	}
	if got.Version != 20 {
		t.Fatalf("expected version 20, got %d", got.Version)
	}
	versions := sink.versions()
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("sink saw versions out of order: %v", versions)
		}
	}
	if len(versions) == 0 || versions[len(versions)-1] != 20 {
		t.Fatalf("expected sink to end on version 20, got %v", versions)
	}
}

func TestTapInvokesRegisteredAction(t *testing.T) {
	surface := NewSurface(zap.NewNop(), Options{})
	if err := surface.Tap(context.Background()); !errors.Is(err, ErrNoTapHandler) {
		t.Fatalf("expected ErrNoTapHandler, got %v", err)
	}

	calls := 0
	surface.OnTap(func(ctx context.Context) error {
		calls++
		return nil
	})
	if err := surface.Tap(context.Background()); err != nil {
		t.Fatalf("tap: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one tap call, got %d", calls)
	}
}

func TestMessagesFor(t *testing.T) {
	tr, err := MessagesFor("")
	if err != nil {
		t.Fatalf("default locale: %v", err)
	}
	if got := tr.DoneBody(87); got != "Yapaylık Skoru: %87" {
		t.Fatalf("unexpected turkish body %q", got)
	}
	en, err := MessagesFor("EN")
	if err != nil {
		t.Fatalf("english locale: %v", err)
	}
	if got := en.DoneBody(87); got != "AI score: 87%" {
		t.Fatalf("unexpected english body %q", got)
	}
	if _, err := MessagesFor("de"); err == nil {
		t.Fatal("expected error for unsupported locale")
	}
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

type stubStore struct {
	setErrs   []error
	setKeys   []string
	published []string
}

func (s *stubStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubStore) Publish(ctx context.Context, channel string, message interface{}) error {
	s.published = append(s.published, message.(string))
	return nil
}

func TestRedisSinkRetriesTransientErrors(t *testing.T) {
	store := &stubStore{setErrs: []error{transientRedisError{}}}
	sink := NewRedisSink(store, "airadar:status", "airadar:status:changes", zap.NewNop())
	sink.initialBackoff = time.Millisecond

	if err := sink.Render(context.Background(), Record{Title: "Hata", Body: "Görüntü alınamadı.", Version: 3}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(store.setKeys) != 2 {
		t.Fatalf("expected a retry, got %d set calls", len(store.setKeys))
	}
	if len(store.published) != 1 {
		t.Fatalf("expected one announcement, got %d", len(store.published))
	}
	var rec Record
	if err := json.Unmarshal([]byte(store.published[0]), &rec); err != nil {
		t.Fatalf("decode announcement: %v", err)
	}
	if rec.Version != 3 || rec.Body != "Görüntü alınamadı." {
		t.Fatalf("unexpected announced record %+v", rec)
	}
}

func TestRedisSinkReturnsOperationError(t *testing.T) {
	store := &stubStore{setErrs: []error{errors.New("WRONGTYPE")}}
	sink := NewRedisSink(store, "airadar:status", "", zap.NewNop())

	err := sink.Render(context.Background(), Record{Version: 1})
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "status.redis.set" || opErr.RequestID != "v1" {
		t.Fatalf("unexpected operation error %+v", opErr)
	}
	if len(store.setKeys) != 1 {
		t.Fatalf("expected no retry for permanent error, got %d calls", len(store.setKeys))
	}
}

type fakeToken struct {
	done bool
	err  error
}

func (t fakeToken) Wait() bool                     { return t.done }
func (t fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakePublisher struct {
	token    fakeToken
	topic    string
	retained bool
	payload  []byte
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topic = topic
	p.retained = retained
	p.payload = payload.([]byte)
	return p.token
}

func TestMQTTSinkPublishesRetained(t *testing.T) {
	pub := &fakePublisher{token: fakeToken{done: true}}
	sink := NewMQTTSink(pub, "airadar/status", 1)

	if err := sink.Render(context.Background(), Record{Title: "Radar Aktif", Version: 1}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if pub.topic != "airadar/status" || !pub.retained {
		t.Fatalf("expected retained publish on airadar/status, got %q retained=%v", pub.topic, pub.retained)
	}
	if !strings.Contains(string(pub.payload), "Radar Aktif") {
		t.Fatalf("unexpected payload %s", pub.payload)
	}

	pub.token = fakeToken{done: false}
	if err := sink.Render(context.Background(), Record{}); err == nil {
		t.Fatal("expected timeout error")
	}
}
