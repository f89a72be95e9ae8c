package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySource implements Source over an in-memory guard map with the same
// claim semantics as the sqlite store.
type memorySource struct {
	name       string
	mu         sync.Mutex
	candidates []Candidate
	guards     map[string]string // "subject/rule" -> status
	collectErr error
	collects   int
}

func newMemorySource(name string, candidates ...Candidate) *memorySource {
	return &memorySource{name: name, candidates: candidates, guards: make(map[string]string)}
}

func guardKey(c Candidate) string {
	return fmt.Sprintf("%d/%d", c.SubjectID, c.RuleID)
}

func (m *memorySource) Name() string { return m.name }

func (m *memorySource) Collect(ctx context.Context, now time.Time) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collects++
	if m.collectErr != nil {
		return nil, m.collectErr
	}
	out := make([]Candidate, len(m.candidates))
	copy(out, m.candidates)
	return out, nil
}

func (m *memorySource) Claim(ctx context.Context, c Candidate, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := guardKey(c)
	if _, exists := m.guards[k]; exists {
		return false, nil
	}
	m.guards[k] = "sending"
	return true, nil
}

func (m *memorySource) Confirm(ctx context.Context, c Candidate, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guards[guardKey(c)] = "sent"
	return nil
}

func (m *memorySource) Unclaim(ctx context.Context, c Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guards[guardKey(c)] == "sending" {
		delete(m.guards, guardKey(c))
	}
	return nil
}

func (m *memorySource) guardStatus(c Candidate) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.guards[guardKey(c)]
	return s, ok
}

// recordingNotifier counts deliveries per recipient and can fail selected
// recipients.
type recordingNotifier struct {
	mu      sync.Mutex
	sent    map[string]int
	failFor map[string]error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[string]int), failFor: make(map[string]error)}
}

func (n *recordingNotifier) Send(ctx context.Context, recipient, channel, templateKey string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failFor[recipient]; ok {
		return err
	}
	n.sent[recipient]++
	return nil
}

func (n *recordingNotifier) sentCount(recipient string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[recipient]
}

func (n *recordingNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.sent {
		total += c
	}
	return total
}

func (n *recordingNotifier) setFailure(recipient string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.failFor, recipient)
	} else {
		n.failFor[recipient] = err
	}
}

func newTestDispatcher(notifier *recordingNotifier, sources ...Source) *Dispatcher {
	logger := zerolog.Nop()
	cfg := DefaultConfig()
	// Disable quiet hours so tests control time freely.
	cfg.QuietHoursStart = 0
	cfg.QuietHoursEnd = 0
	return NewDispatcher(cfg, sources, notifier, time.UTC, &logger, nil)
}

func candidate(subjectID, ruleID int64) Candidate {
	return Candidate{
		SubjectID:   subjectID,
		RuleID:      ruleID,
		Recipient:   fmt.Sprintf("chat-%d-%d", subjectID, ruleID),
		Channel:     "telegram",
		TemplateKey: "upcoming_reminder",
	}
}

func TestSweepDeliversOncePerCandidate(t *testing.T) {
	c1, c2, c3 := candidate(1, 1), candidate(2, 1), candidate(3, 2)
	src := newMemorySource("upcoming", c1, c2, c3)
	notifier := newRecordingNotifier()
	d := newTestDispatcher(notifier, src)

	for i := 0; i < 3; i++ {
		d.RunSweep(context.Background())
	}

	assert.Equal(t, 3, notifier.total(), "each candidate delivered exactly once across repeated sweeps")
	for _, c := range []Candidate{c1, c2, c3} {
		assert.Equal(t, 1, notifier.sentCount(c.Recipient))
		status, ok := src.guardStatus(c)
		require.True(t, ok)
		assert.Equal(t, "sent", status)
	}
}

func TestSweepFailureIsolationAndRetry(t *testing.T) {
	good, bad := candidate(1, 1), candidate(2, 1)
	src := newMemorySource("upcoming", good, bad)
	notifier := newRecordingNotifier()
	notifier.setFailure(bad.Recipient, errors.New("chat unreachable"))
	d := newTestDispatcher(notifier, src)

	d.RunSweep(context.Background())

	assert.Equal(t, 1, notifier.sentCount(good.Recipient), "sibling failure must not block delivery")
	_, guarded := src.guardStatus(bad)
	assert.False(t, guarded, "failed delivery must release the guard")

	// Channel recovers; the failed candidate is picked up next sweep.
	notifier.setFailure(bad.Recipient, nil)
	d.RunSweep(context.Background())

	assert.Equal(t, 1, notifier.sentCount(bad.Recipient))
	assert.Equal(t, 1, notifier.sentCount(good.Recipient), "recovered sweep must not resend")
}

func TestSweepSkipsQuietHours(t *testing.T) {
	src := newMemorySource("upcoming", candidate(1, 1))
	notifier := newRecordingNotifier()
	logger := zerolog.Nop()
	d := NewDispatcher(DefaultConfig(), []Source{src}, notifier, time.UTC, &logger, nil)
	d.now = func() time.Time {
		return time.Date(2025, 6, 9, 23, 30, 0, 0, time.UTC)
	}

	d.RunSweep(context.Background())

	assert.Zero(t, notifier.total())
	assert.Zero(t, src.collects, "quiet hours must be decided before touching sources")

	// Same sweep during business hours runs normally.
	d.now = func() time.Time {
		return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	}
	d.RunSweep(context.Background())
	assert.Equal(t, 1, notifier.total())
}

func TestQuietHoursBoundaries(t *testing.T) {
	logger := zerolog.Nop()
	d := NewDispatcher(DefaultConfig(), nil, newRecordingNotifier(), time.UTC, &logger, nil)

	cases := []struct {
		hour, minute int
		quiet        bool
	}{
		{22, 59, false},
		{23, 0, true},
		{2, 30, true},
		{7, 59, true},
		{8, 0, false},
		{12, 0, false},
	}
	for _, tc := range cases {
		at := time.Date(2025, 6, 9, tc.hour, tc.minute, 0, 0, time.UTC)
		assert.Equal(t, tc.quiet, d.inQuietHours(at), "at %02d:%02d", tc.hour, tc.minute)
	}
}

func TestCollectErrorDoesNotAbortOtherSources(t *testing.T) {
	broken := newMemorySource("recovery")
	broken.collectErr = errors.New("table locked")
	healthy := newMemorySource("upcoming", candidate(1, 1))
	notifier := newRecordingNotifier()
	d := newTestDispatcher(notifier, broken, healthy)

	d.RunSweep(context.Background())

	assert.Equal(t, 1, notifier.total(), "healthy source must still be swept")
}

func TestConcurrentSweepsStayExactlyOnce(t *testing.T) {
	var cands []Candidate
	for i := int64(1); i <= 20; i++ {
		cands = append(cands, candidate(i, 1))
	}
	src := newMemorySource("upcoming", cands...)
	notifier := newRecordingNotifier()
	d := newTestDispatcher(notifier, src)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.RunSweep(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, len(cands), notifier.total(), "concurrent sweeps must not duplicate sends")
}
