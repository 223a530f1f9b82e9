package submission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/internal/notify"
	"github.com/sirosfoundation/go-as4-gateway/internal/queue"
	"github.com/sirosfoundation/go-as4-gateway/internal/storage/memory"
	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/go-as4-gateway/pkg/pmode"
	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

type fakeBuilder struct {
	fail bool
}

func (b fakeBuilder) Build(_ context.Context, sub *ebms.Submission, _ *pmode.LegConfiguration, _ pmode.ProcessingContext) ([]byte, error) {
	if b.fail {
		return nil, errors.New("builder broken")
	}
	return []byte("<Envelope id=\"" + sub.MessageID + "\"/>"), nil
}

type fakeScheduler struct {
	jobs []queue.SendJob
}

func (s *fakeScheduler) EnqueueSend(job queue.SendJob) error {
	s.jobs = append(s.jobs, job)
	return nil
}

type fixture struct {
	store     *memory.Store
	scheduler *fakeScheduler
	svc       *Service
}

func newFixture(t *testing.T, builder EnvelopeBuilder) *fixture {
	t.Helper()
	cfg, err := pmode.NewConfiguration(
		"blue_gw",
		[]*pmode.Party{
			{Name: "blue_gw", Identifiers: []pmode.PartyIdentifier{{Value: "urn:party:blue"}}},
			{Name: "red_gw", Identifiers: []pmode.PartyIdentifier{{Value: "urn:party:red"}}, Endpoint: "https://red.example.com/as4"},
		},
		[]*pmode.Service{{Name: "testService", Value: "bdx:noprocess"}},
		[]*pmode.LegConfiguration{
			{
				Name:    "pushLeg",
				Service: "testService",
				Action:  "pushAction",
				ReceptionAwareness: pmode.ReceptionAwareness{
					RetryCount:   3,
					RetryTimeout: 10 * time.Minute,
				},
				PropertySet: pmode.PropertySet{Properties: []pmode.PropertyDefinition{
					{Name: "finalRecipient", Key: "finalRecipient", Datatype: pmode.PropertyString, Required: true},
					{Name: "batchSize", Key: "batchSize", Datatype: pmode.PropertyInt},
					{Name: "urgent", Key: "urgent", Datatype: pmode.PropertyBoolean},
				}},
			},
			{
				Name:    "pullLeg",
				Service: "testService",
				Action:  "pullAction",
				ReceptionAwareness: pmode.ReceptionAwareness{
					RetryCount:   2,
					RetryTimeout: 10 * time.Minute,
				},
			},
			{
				Name:    "compressLeg",
				Service: "testService",
				Action:  "compressAction",
				PayloadProfile: pmode.PayloadProfile{
					Compress: true,
					MaxSize:  1 << 20,
				},
			},
		},
		[]*pmode.Process{
			{
				Name:          "pushProcess",
				Mep:           pmode.MepOneWay,
				MepBinding:    pmode.BindingPush,
				InitiatorRole: pmode.Role{Name: "initiator", Value: "urn:role:initiator"},
				ResponderRole: pmode.Role{Name: "responder", Value: "urn:role:responder"},
				Initiators:    []string{"blue_gw"},
				Responders:    []string{"red_gw"},
				Legs:          []string{"pushLeg", "compressLeg"},
			},
			{
				Name:          "pullProcess",
				Mep:           pmode.MepOneWay,
				MepBinding:    pmode.BindingPull,
				InitiatorRole: pmode.Role{Name: "initiator", Value: "urn:role:initiator"},
				ResponderRole: pmode.Role{Name: "responder", Value: "urn:role:responder"},
				Initiators:    []string{"red_gw"},
				Responders:    []string{"blue_gw"},
				Legs:          []string{"pullLeg"},
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	store := memory.NewStore()
	scheduler := &fakeScheduler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(store, cfg, builder, scheduler, notify.NewLogNotifier(logger), logger, Options{
		MessageIDSuffix: "blue.example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{store: store, scheduler: scheduler, svc: svc}
}

func pushSubmission() *ebms.Submission {
	return &ebms.Submission{
		FromParty: "blue_gw",
		FromRole:  "urn:role:initiator",
		ToParty:   "red_gw",
		ToRole:    "urn:role:responder",
		Service:   "testService",
		Action:    "pushAction",
		MessageProperties: []ebms.MessageProperty{
			{Name: "finalRecipient", Value: "urn:recipient:1"},
		},
		Payloads: []ebms.Payload{
			{ContentID: "doc", ContentType: "application/xml", Data: []byte("<Doc/>")},
		},
	}
}

func pullSubmission() *ebms.Submission {
	return &ebms.Submission{
		FromParty: "blue_gw",
		FromRole:  "urn:role:responder",
		ToParty:   "red_gw",
		ToRole:    "urn:role:initiator",
		Service:   "testService",
		Action:    "pullAction",
	}
}

func TestService_Submit_Push(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeBuilder{})

	messageID, err := f.svc.Submit(ctx, pushSubmission(), "backend-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(messageID, "@blue.example.com") {
		t.Errorf("generated id missing suffix: %s", messageID)
	}

	log, err := f.store.GetDeliveryLog(ctx, messageID, reliability.RoleSending)
	if err != nil {
		t.Fatal(err)
	}
	if log.Status != reliability.StatusSendEnqueued {
		t.Errorf("expected SEND_ENQUEUED, got %s", log.Status)
	}
	if log.SendAttemptsMax != 4 {
		t.Errorf("expected attempts max 4, got %d", log.SendAttemptsMax)
	}
	if log.BackendName != "backend-1" {
		t.Errorf("unexpected backend %s", log.BackendName)
	}
	if log.Mpc != pmode.DefaultMpc {
		t.Errorf("unexpected mpc %s", log.Mpc)
	}

	if len(f.scheduler.jobs) != 1 || f.scheduler.jobs[0].MessageID != messageID {
		t.Errorf("expected one send job for %s, got %+v", messageID, f.scheduler.jobs)
	}
	if _, err := f.store.GetRawEnvelope(ctx, messageID); err != nil {
		t.Errorf("expected retained envelope: %v", err)
	}
	// No delivery lock for push.
	if id, _ := f.store.NextLockID(ctx, pmode.DefaultMpc, ""); id != "" {
		t.Error("push submission must not register a lock")
	}
}

func TestService_Submit_Pull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeBuilder{})

	messageID, err := f.svc.Submit(ctx, pullSubmission(), "backend-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log, err := f.store.GetDeliveryLog(ctx, messageID, reliability.RoleSending)
	if err != nil {
		t.Fatal(err)
	}
	if log.Status != reliability.StatusReadyToPull {
		t.Errorf("expected READY_TO_PULL, got %s", log.Status)
	}
	if log.SendAttemptsMax != 3 {
		t.Errorf("expected attempts max 3, got %d", log.SendAttemptsMax)
	}
	if len(f.scheduler.jobs) != 0 {
		t.Error("pull submission must not schedule a send job")
	}

	lockID, err := f.store.NextLockID(ctx, pmode.DefaultMpc, "red_gw")
	if err != nil {
		t.Fatalf("expected a registered lock: %v", err)
	}
	lock, err := f.store.TryClaim(ctx, lockID)
	if err != nil {
		t.Fatal(err)
	}
	if lock.MessageID != messageID {
		t.Errorf("lock for wrong message: %s", lock.MessageID)
	}
	if lock.SendAttemptsMax != 3 {
		t.Errorf("expected lock attempts max 3, got %d", lock.SendAttemptsMax)
	}
}

func TestService_Submit_DuplicateID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeBuilder{})

	sub := pushSubmission()
	sub.MessageID = "fixed-id@example.com"
	if _, err := f.svc.Submit(ctx, sub, "backend-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	again := pushSubmission()
	again.MessageID = "fixed-id@example.com"
	_, err := f.svc.Submit(ctx, again, "backend-1")
	var dup *ebms.DuplicateMessageError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateMessageError, got %v", err)
	}
	if dup.MessageID != "fixed-id@example.com" {
		t.Errorf("unexpected id %s", dup.MessageID)
	}
}

func TestService_Submit_InvalidMessageID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeBuilder{})

	tooLong := pushSubmission()
	tooLong.MessageID = strings.Repeat("a", MaxMessageIDLength+1)
	_, err := f.svc.Submit(ctx, tooLong, "backend-1")
	var perr *ebms.ProtocolError
	if !errors.As(err, &perr) || perr.ErrorCode.Code != ebms.ErrorValueInconsistent.Code {
		t.Errorf("expected EBMS:0003 for oversize id, got %v", err)
	}

	badChars := pushSubmission()
	badChars.MessageID = "id-with-\x01-control"
	_, err = f.svc.Submit(ctx, badChars, "backend-1")
	if !errors.As(err, &perr) || perr.ErrorCode.Code != ebms.ErrorValueNotRecognized.Code {
		t.Errorf("expected EBMS:0001 for malformed id, got %v", err)
	}

	badRef := pushSubmission()
	badRef.RefToMessageID = strings.Repeat("b", MaxMessageIDLength+1)
	if _, err := f.svc.Submit(ctx, badRef, "backend-1"); err == nil {
		t.Error("expected error for oversize refToMessageId")
	}
}

func TestService_Submit_NoMatchingExchange(t *testing.T) {
	f := newFixture(t, fakeBuilder{})

	sub := pushSubmission()
	sub.Action = "unknownAction"
	_, err := f.svc.Submit(context.Background(), sub, "backend-1")
	if !errors.Is(err, pmode.ErrNoMatchingLeg) {
		t.Errorf("expected ErrNoMatchingLeg, got %v", err)
	}
}

func TestService_Submit_PartyGates(t *testing.T) {
	f := newFixture(t, fakeBuilder{})
	ctx := context.Background()

	same := pushSubmission()
	same.ToParty = "blue_gw"
	if _, err := f.svc.Submit(ctx, same, "backend-1"); err == nil {
		t.Error("expected error for sender == receiver")
	}

	wrongRole := pushSubmission()
	wrongRole.FromRole = "urn:role:responder"
	wrongRole.ToRole = "urn:role:initiator"
	_, err := f.svc.Submit(ctx, wrongRole, "backend-1")
	var perr *ebms.ProtocolError
	if !errors.As(err, &perr) || perr.ErrorCode.Code != ebms.ErrorProcessingModeMismatch.Code {
		t.Errorf("expected EBMS:0010 for role mismatch, got %v", err)
	}
}

func TestService_Submit_ReservedCompressionProperty(t *testing.T) {
	f := newFixture(t, fakeBuilder{})

	sub := pushSubmission()
	sub.Payloads[0].Properties = map[string]string{ebms.CompressionProperty: "application/gzip"}
	if _, err := f.svc.Submit(context.Background(), sub, "backend-1"); err == nil {
		t.Error("expected rejection of the reserved compression property")
	}
}

func TestService_Submit_PropertyProfile(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*ebms.Submission)
	}{
		{
			name: "undeclared property",
			mutate: func(s *ebms.Submission) {
				s.MessageProperties = append(s.MessageProperties,
					ebms.MessageProperty{Name: "mystery", Value: "x"})
			},
		},
		{
			name: "missing required property",
			mutate: func(s *ebms.Submission) {
				s.MessageProperties = nil
			},
		},
		{
			name: "malformed int",
			mutate: func(s *ebms.Submission) {
				s.MessageProperties = append(s.MessageProperties,
					ebms.MessageProperty{Name: "batchSize", Value: "many"})
			},
		},
		{
			name: "malformed boolean",
			mutate: func(s *ebms.Submission) {
				s.MessageProperties = append(s.MessageProperties,
					ebms.MessageProperty{Name: "urgent", Value: "kinda"})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fakeBuilder{})
			sub := pushSubmission()
			tt.mutate(sub)
			if _, err := f.svc.Submit(ctx, sub, "backend-1"); err == nil {
				t.Error("expected property profile violation")
			}
		})
	}

	// Well-typed declared properties pass.
	f := newFixture(t, fakeBuilder{})
	sub := pushSubmission()
	sub.MessageProperties = append(sub.MessageProperties,
		ebms.MessageProperty{Name: "batchSize", Value: "25"},
		ebms.MessageProperty{Name: "urgent", Value: "true"})
	if _, err := f.svc.Submit(ctx, sub, "backend-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestService_Submit_CompressionProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeBuilder{})

	sub := pushSubmission()
	sub.Action = "compressAction"
	sub.MessageProperties = nil
	sub.Payloads[0].Data = []byte(strings.Repeat("compressible ", 100))

	if _, err := f.svc.Submit(ctx, sub, "backend-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Payloads[0].ContentType != "application/gzip" {
		t.Errorf("expected compressed payload, got %s", sub.Payloads[0].ContentType)
	}
	if sub.Payloads[0].Properties[ebms.MimeTypeProperty] != "application/xml" {
		t.Error("original mime type not recorded")
	}
}

func TestService_Submit_BuilderFailureUnwinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeBuilder{fail: true})

	sub := pushSubmission()
	sub.MessageID = "unwind-me@example.com"
	if _, err := f.svc.Submit(ctx, sub, "backend-1"); err == nil {
		t.Fatal("expected builder failure")
	}

	// The id must be resubmittable.
	status, err := f.store.GetStatus(ctx, "unwind-me@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if status != reliability.StatusNotFound {
		t.Errorf("expected NOT_FOUND after unwind, got %s", status)
	}
}

func TestService_Submit_OversizePayload(t *testing.T) {
	f := newFixture(t, fakeBuilder{})

	sub := pushSubmission()
	sub.Action = "compressAction"
	sub.MessageProperties = nil
	sub.Payloads[0].Data = make([]byte, (1<<20)+1)
	if _, err := f.svc.Submit(context.Background(), sub, "backend-1"); err == nil {
		t.Error("expected oversize payload rejection")
	}
}
