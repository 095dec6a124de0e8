package digest

import (
	"context"
	"testing"
	"time"

	"mailsense/core/domain"
	"mailsense/pkg/apperr"
)

func noopStage(name string, deps ...string) *Stage {
	return &Stage{
		Name:      name,
		DependsOn: deps,
		Run:       func(ctx context.Context, sc *StageContext) error { return nil },
	}
}

func TestPipelineValidation(t *testing.T) {
	tests := []struct {
		name    string
		stages  []*Stage
		wantErr bool
	}{
		{"valid chain", []*Stage{noopStage("a"), noopStage("b", "a"), noopStage("c", "b")}, false},
		{"duplicate name", []*Stage{noopStage("a"), noopStage("a")}, true},
		{"unknown dependency", []*Stage{noopStage("a", "ghost")}, true},
		{"cycle", []*Stage{noopStage("a", "b"), noopStage("b", "a")}, true},
		{"empty name", []*Stage{noopStage("")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(tt.stages)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestPipelineStableTopologicalOrder(t *testing.T) {
	// b and c are both ready after a; declaration order must decide.
	p, err := NewPipeline([]*Stage{
		noopStage("a"),
		noopStage("b", "a"),
		noopStage("c", "a"),
		noopStage("d", "b", "c"),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	got := p.StageOrder()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestUndeclaredAccessIsContractViolation(t *testing.T) {
	read := &Stage{
		Name: "sneaky_read",
		Run: func(ctx context.Context, sc *StageContext) error {
			_, err := sc.Get(KeyMessages) // not declared
			return err
		},
	}
	p, err := NewPipeline([]*Stage{read})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	rc := NewRunContext(time.Now(), time.UTC, nil)
	execErr := p.Execute(context.Background(), rc)
	if !apperr.IsKind(execErr, apperr.KindContract) {
		t.Errorf("err = %v, want ContractViolation", execErr)
	}

	write := &Stage{
		Name: "sneaky_write",
		Run: func(ctx context.Context, sc *StageContext) error {
			return sc.Set(KeyHTML, "<p>hi</p>") // not declared
		},
	}
	p2, err := NewPipeline([]*Stage{write})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	execErr = p2.Execute(context.Background(), NewRunContext(time.Now(), time.UTC, nil))
	if !apperr.IsKind(execErr, apperr.KindContract) {
		t.Errorf("err = %v, want ContractViolation", execErr)
	}
}

func TestStageErrorBecomesWarning(t *testing.T) {
	failing := &Stage{
		Name: "flaky",
		Run: func(ctx context.Context, sc *StageContext) error {
			return context.DeadlineExceeded
		},
	}
	after := noopStage("after", "flaky")
	p, err := NewPipeline([]*Stage{failing, after})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	rc := NewRunContext(time.Now(), time.UTC, nil)
	if err := p.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute should continue past a stage error: %v", err)
	}
	if len(rc.Warnings()) != 1 {
		t.Errorf("warnings = %v, want one entry", rc.Warnings())
	}
}

// ---- temporal extraction ----

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", value, err)
	}
	return parsed
}

func TestExtractEventDate(t *testing.T) {
	email := &domain.InboundEmail{
		ID:      "m1",
		Subject: "Dinner @ Fri Nov 21, 2025 6:30pm",
		Snippet: "See you there",
	}
	tc := extractTemporal(email)
	if tc == nil || tc.EventStart == nil {
		t.Fatal("no event_start extracted")
	}
	want := ts(t, "2025-11-21T18:30:00Z")
	if !tc.EventStart.Equal(want) {
		t.Errorf("event_start = %s, want %s", tc.EventStart, want)
	}
}

func TestExtractDeliveryDate(t *testing.T) {
	email := &domain.InboundEmail{
		ID:      "m2",
		Subject: "Your package",
		Snippet: "It was delivered on Nov 9, 2025 at your door",
	}
	tc := extractTemporal(email)
	if tc == nil || tc.DeliveryDate == nil {
		t.Fatal("no delivery_date extracted")
	}
	if tc.EventStart != nil {
		t.Error("delivery context must not populate event_start")
	}
	want := ts(t, "2025-11-09T00:00:00Z")
	if !tc.DeliveryDate.Equal(want) {
		t.Errorf("delivery_date = %s, want %s", tc.DeliveryDate, want)
	}
}

func TestExtractExpirationISO(t *testing.T) {
	email := &domain.InboundEmail{
		ID:      "m3",
		Subject: "20% off everything",
		Snippet: "Offer expires 2025-12-01",
	}
	tc := extractTemporal(email)
	if tc == nil || tc.ExpirationDate == nil {
		t.Fatal("no expiration_date extracted")
	}
	want := ts(t, "2025-12-01T00:00:00Z")
	if !tc.ExpirationDate.Equal(want) {
		t.Errorf("expiration_date = %s, want %s", tc.ExpirationDate, want)
	}
}

func TestExtractNothingFromPlainText(t *testing.T) {
	email := &domain.InboundEmail{
		ID:      "m4",
		Subject: "Quick question",
		Snippet: "Do you have a minute this week?",
	}
	if tc := extractTemporal(email); tc != nil {
		t.Errorf("extracted %+v from dateless text", tc)
	}
}

// ---- T0 ----

func TestIntrinsicAssignment(t *testing.T) {
	eventTime := ts(t, "2025-11-21T18:30:00Z")
	withTime := &domain.TemporalContext{EventStart: &eventTime}

	tests := []struct {
		name       string
		typ        domain.EmailType
		importance domain.Importance
		tc         *domain.TemporalContext
		want       domain.DigestSection
	}{
		{"otp skips", domain.TypeOTP, domain.ImportanceCritical, nil, domain.SectionSkip},
		{"critical", domain.TypeNotification, domain.ImportanceCritical, nil, domain.SectionCritical},
		{"time sensitive with timestamp", domain.TypeEvent, domain.ImportanceTimeSensitive, withTime, domain.SectionToday},
		{"time sensitive without timestamp", domain.TypeNotification, domain.ImportanceTimeSensitive, nil, domain.SectionEverythingElse},
		{"routine", domain.TypeNewsletter, domain.ImportanceRoutine, nil, domain.SectionEverythingElse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &domain.Classification{Type: tt.typ, Importance: tt.importance}
			if got := assignIntrinsic(c, tt.tc); got != tt.want {
				t.Errorf("section = %s, want %s", got, tt.want)
			}
		})
	}
}

// ---- T1 ----

func TestDecayEventSections(t *testing.T) {
	start := ts(t, "2025-11-21T18:30:00Z")
	tc := &domain.TemporalContext{EventStart: &start}

	tests := []struct {
		name string
		now  string
		want domain.DigestSection
	}{
		{"eleven days ahead", "2025-11-10T12:00:00Z", domain.SectionWorthKnowing},
		{"thirty hours ahead", "2025-11-20T12:00:00Z", domain.SectionComingUp},
		{"thirty minutes ahead", "2025-11-21T18:00:00Z", domain.SectionCritical},
		{"thirty minutes past, grace", "2025-11-21T19:00:00Z", domain.SectionCritical},
		{"two hours past", "2025-11-21T20:30:00Z", domain.SectionSkip},
		{"twenty hours ahead", "2025-11-20T22:30:00Z", domain.SectionToday},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decaySection(domain.SectionToday, tc, domain.ImportanceTimeSensitive, ts(t, tt.now))
			if got != tt.want {
				t.Errorf("section = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecaySevenDayBoundaryIsComingUp(t *testing.T) {
	now := ts(t, "2025-11-10T12:00:00Z")
	start := now.Add(7 * 24 * time.Hour)
	tc := &domain.TemporalContext{EventStart: &start}
	got := decaySection(domain.SectionToday, tc, domain.ImportanceTimeSensitive, now)
	if got != domain.SectionComingUp {
		t.Errorf("section at exactly 7d = %s, want coming_up", got)
	}
}

func TestDecayCriticalNonEventNeverDemotes(t *testing.T) {
	now := ts(t, "2025-11-10T12:00:00Z")
	old := now.Add(-72 * time.Hour)
	tc := &domain.TemporalContext{DeliveryDate: &old}
	got := decaySection(domain.SectionCritical, tc, domain.ImportanceCritical, now)
	if got != domain.SectionCritical {
		t.Errorf("critical T0 demoted to %s", got)
	}
}

func TestDecayDeliveryRules(t *testing.T) {
	now := ts(t, "2025-11-10T12:00:00Z")

	recent := now.Add(-6 * time.Hour)
	got := decaySection(domain.SectionEverythingElse, &domain.TemporalContext{DeliveryDate: &recent}, domain.ImportanceRoutine, now)
	if got != domain.SectionToday {
		t.Errorf("recent delivery = %s, want today", got)
	}

	stale := now.Add(-48 * time.Hour)
	got = decaySection(domain.SectionToday, &domain.TemporalContext{DeliveryDate: &stale}, domain.ImportanceRoutine, now)
	if got != domain.SectionEverythingElse {
		t.Errorf("stale routine delivery = %s, want everything_else", got)
	}
}

func TestDecaySkipStaysSkipped(t *testing.T) {
	now := ts(t, "2025-11-10T12:00:00Z")
	soon := now.Add(30 * time.Minute)
	tc := &domain.TemporalContext{EventStart: &soon}
	if got := decaySection(domain.SectionSkip, tc, domain.ImportanceCritical, now); got != domain.SectionSkip {
		t.Errorf("skip re-entered the digest as %s", got)
	}
}
