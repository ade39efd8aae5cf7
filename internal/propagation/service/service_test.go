package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	opmodels "nser/internal/operator/models"
	"nser/internal/propagation/models"
	"nser/internal/propagation/queue"
	"nser/internal/propagation/sender"
	"nser/internal/propagation/service/mocks"
	"nser/internal/propagation/store"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/audit"
	auditmemory "nser/pkg/platform/audit/store/memory"
	"nser/pkg/platform/tx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeDirectory struct {
	mu  sync.Mutex
	ops []*opmodels.Operator
}

func (d *fakeDirectory) add(op *opmodels.Operator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
}

func (d *fakeDirectory) ListActive(context.Context) ([]*opmodels.Operator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*opmodels.Operator
	for _, op := range d.ops {
		if op.IsLicenseActive() {
			out = append(out, op)
		}
	}
	return out, nil
}

func (d *fakeDirectory) Get(_ context.Context, operatorID id.OperatorID) (*opmodels.Operator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range d.ops {
		if op.ID == operatorID {
			return op, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "operator not found")
}

type sendFunc func(ctx context.Context, op *opmodels.Operator, n models.Notice) error

type fakeSender struct {
	mu    sync.Mutex
	fn    sendFunc
	calls map[id.OperatorID]int
}

func (s *fakeSender) set(fn sendFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
}

func (s *fakeSender) Send(ctx context.Context, op *opmodels.Operator, n models.Notice) error {
	s.mu.Lock()
	s.calls[op.ID]++
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, op, n)
}

func (s *fakeSender) callsFor(operatorID id.OperatorID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operatorID]
}

func rejected(op *opmodels.Operator) error {
	return &sender.DeliveryError{Category: sender.CategoryRejected, OperatorID: op.ID.String(), StatusCode: 410}
}

func unavailable(op *opmodels.Operator) error {
	return &sender.DeliveryError{Category: sender.CategoryServerError, OperatorID: op.ID.String(), StatusCode: 503, Retryable: true}
}

type EngineSuite struct {
	suite.Suite
	ctx        context.Context
	clock      *fakeClock
	store      *store.InMemory
	queue      *queue.Memory
	directory  *fakeDirectory
	sender     *fakeSender
	auditStore *auditmemory.InMemoryStore
	engine     *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s.store = store.NewInMemory()
	s.queue = queue.NewMemory()
	s.directory = &fakeDirectory{}
	s.sender = &fakeSender{calls: make(map[id.OperatorID]int)}
	s.auditStore = auditmemory.NewInMemoryStore()
	s.engine = s.newEngine(Config{MaxRetries: 3, BackoffCap: 30 * time.Second}, s.directory, s.sender)
}

func (s *EngineSuite) TearDownTest() {
	s.engine.Close()
}

func (s *EngineSuite) newEngine(cfg Config, directory Directory, snd Sender) *Engine {
	return New(s.store, directory, snd, tx.NewInMemory(), audit.NewTrail(s.auditStore),
		WithConfig(cfg),
		WithQueue(s.queue),
		WithClock(s.clock.Now),
	)
}

func (s *EngineSuite) addOperators(n int) []*opmodels.Operator {
	out := make([]*opmodels.Operator, 0, n)
	for i := 0; i < n; i++ {
		op, err := opmodels.NewOperator(id.NewOperatorID(),
			fmt.Sprintf("Operator %02d", i),
			fmt.Sprintf("LIC-%04d", i),
			"https://operator.example/notices",
			fmt.Sprintf("operator-%02d", i),
			"hash", "delivery-secret", nil, s.clock.Now())
		s.Require().NoError(err)
		s.directory.add(op)
		out = append(out, op)
	}
	return out
}

func (s *EngineSuite) notice(exclusionID id.ExclusionID, version int, status string) models.Notice {
	return models.Notice{
		ExclusionID:  exclusionID,
		Reference:    "SE-20240501-ABCDEF",
		TokenID:      id.NewTokenID(),
		TokenValue:   "NSER-TESTTOKEN",
		Status:       status,
		EffectiveAt:  s.clock.Now(),
		ExpiresAt:    s.clock.Now().AddDate(1, 0, 0),
		StateVersion: version,
	}
}

func (s *EngineSuite) dispatch(n models.Notice) {
	s.Require().NoError(s.engine.Dispatch(s.ctx, n))
	s.engine.Wait()
}

func (s *EngineSuite) delivery(exclusionID id.ExclusionID, operatorID id.OperatorID) *models.Delivery {
	d, err := s.store.FindDelivery(s.ctx, exclusionID, operatorID)
	s.Require().NoError(err)
	return d
}

func (s *EngineSuite) TestFanOutWithPartialFailure() {
	ops := s.addOperators(50)
	refusing := map[id.OperatorID]bool{ops[7].ID: true, ops[31].ID: true}
	s.sender.set(func(_ context.Context, op *opmodels.Operator, _ models.Notice) error {
		if refusing[op.ID] {
			return rejected(op)
		}
		return nil
	})

	exclusionID := id.NewExclusionID()
	s.dispatch(s.notice(exclusionID, 1, "active"))

	summary, err := s.engine.GetComplianceSummary(s.ctx, exclusionID)
	s.Require().NoError(err)
	s.Equal(models.AggregatePartial, summary.Status)
	s.Equal(50, summary.OperatorsTotal)
	s.Equal(48, summary.OperatorsAcknowledged)
	s.Equal(2, summary.OperatorsFailed)

	for opID := range refusing {
		d := s.delivery(exclusionID, opID)
		s.Equal(models.DeliveryFailed, d.Status, "rejections are not retried")
		s.Equal(1, s.sender.callsFor(opID))
		s.Equal(1, s.auditStore.CountAction(audit.EntityDelivery, deliveryEntityID(exclusionID, opID), audit.ActionDeliveryFailed))
	}
	s.Equal(1, s.auditStore.CountAction(audit.EntityDelivery, exclusionID.String(), audit.ActionDeliveryDispatched))
}

func (s *EngineSuite) TestRetryFollowsBackoff() {
	op := s.addOperators(1)[0]
	failures := 1
	s.sender.set(func(_ context.Context, op *opmodels.Operator, _ models.Notice) error {
		if failures > 0 {
			failures--
			return unavailable(op)
		}
		return nil
	})

	exclusionID := id.NewExclusionID()
	s.dispatch(s.notice(exclusionID, 1, "active"))

	d := s.delivery(exclusionID, op.ID)
	s.Equal(models.DeliveryTimeout, d.Status)
	s.Equal(1, d.RetryCount)
	s.Require().NotNil(d.NextRetryAt)
	s.Equal(s.clock.Now().Add(2*time.Second), *d.NextRetryAt)

	s.Equal(0, s.engine.pollOnce(s.ctx), "retry is not due yet")

	s.clock.Advance(2 * time.Second)
	s.Equal(1, s.engine.pollOnce(s.ctx))
	s.engine.Wait()

	d = s.delivery(exclusionID, op.ID)
	s.Equal(models.DeliveryAcknowledged, d.Status)
	s.True(d.IsCompliant)
	s.Equal(2, s.sender.callsFor(op.ID))
}

func (s *EngineSuite) TestExhaustedRetriesFailAndCanBeReset() {
	op := s.addOperators(1)[0]
	s.sender.set(func(_ context.Context, op *opmodels.Operator, _ models.Notice) error {
		return unavailable(op)
	})

	exclusionID := id.NewExclusionID()
	s.dispatch(s.notice(exclusionID, 1, "active"))
	for i := 0; i < 2; i++ {
		s.clock.Advance(time.Minute)
		s.Equal(1, s.engine.pollOnce(s.ctx))
		s.engine.Wait()
	}

	d := s.delivery(exclusionID, op.ID)
	s.Equal(models.DeliveryFailed, d.Status)
	s.Equal(3, d.RetryCount)
	s.Equal(1, s.auditStore.CountAction(audit.EntityDelivery, deliveryEntityID(exclusionID, op.ID), audit.ActionDeliveryFailed))

	s.Run("reset requires a reason", func() {
		_, err := s.engine.ResetForRetry(s.ctx, exclusionID, op.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.sender.set(nil)
	reset, err := s.engine.ResetForRetry(s.ctx, exclusionID, op.ID, "operator endpoint fixed")
	s.Require().NoError(err)
	s.Equal(models.DeliveryPending, reset.Status)
	s.Equal(0, reset.RetryCount)
	s.engine.Wait()

	s.Equal(models.DeliveryAcknowledged, s.delivery(exclusionID, op.ID).Status)
	s.Equal(1, s.auditStore.CountAction(audit.EntityDelivery, deliveryEntityID(exclusionID, op.ID), audit.ActionDeliveryReset))

	s.Run("only failed deliveries can be reset", func() {
		_, err := s.engine.ResetForRetry(s.ctx, exclusionID, op.ID, "again")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *EngineSuite) TestAcknowledgeIsIdempotent() {
	op := s.addOperators(1)[0]
	s.sender.set(func(_ context.Context, op *opmodels.Operator, _ models.Notice) error {
		return unavailable(op)
	})
	exclusionID := id.NewExclusionID()
	s.dispatch(s.notice(exclusionID, 1, "active"))
	s.Require().Equal(models.DeliveryTimeout, s.delivery(exclusionID, op.ID).Status)

	ack := models.Acknowledgement{ExclusionID: exclusionID, OperatorID: op.ID, StateVersion: 1}
	first, err := s.engine.Acknowledge(s.ctx, ack)
	s.Require().NoError(err)
	s.Equal(models.DeliveryAcknowledged, first.Status)

	second, err := s.engine.Acknowledge(s.ctx, ack)
	s.Require().NoError(err)
	s.Equal(first.AcknowledgedAt, second.AcknowledgedAt)
	s.Equal(1, s.auditStore.CountAction(audit.EntityDelivery, deliveryEntityID(exclusionID, op.ID), audit.ActionDeliveryAcknowledged))

	s.Run("superseded version", func() {
		_, err := s.engine.Acknowledge(s.ctx, models.Acknowledgement{ExclusionID: exclusionID, OperatorID: op.ID, StateVersion: 0})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown mapping", func() {
		_, err := s.engine.Acknowledge(s.ctx, models.Acknowledgement{ExclusionID: id.NewExclusionID(), OperatorID: op.ID, StateVersion: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("queued retry finds nothing to do", func() {
		s.clock.Advance(time.Minute)
		s.engine.pollOnce(s.ctx)
		s.engine.Wait()
		s.Equal(1, s.sender.callsFor(op.ID))
	})
}

func (s *EngineSuite) TestNewerStateCancelsInFlightAttempt() {
	op := s.addOperators(1)[0]
	started := make(chan struct{})
	var cancelled bool
	s.sender.set(func(ctx context.Context, _ *opmodels.Operator, n models.Notice) error {
		if n.StateVersion == 1 {
			close(started)
			<-ctx.Done()
			cancelled = true
			return ctx.Err()
		}
		return nil
	})

	exclusionID := id.NewExclusionID()
	s.Require().NoError(s.engine.Dispatch(s.ctx, s.notice(exclusionID, 1, "active")))
	<-started
	s.Require().NoError(s.engine.Dispatch(s.ctx, s.notice(exclusionID, 2, "terminated")))
	s.engine.Wait()

	s.True(cancelled)
	d := s.delivery(exclusionID, op.ID)
	s.Equal(2, d.StateVersion)
	s.Equal(models.DeliveryAcknowledged, d.Status)
	s.Equal(0, d.RetryCount, "the cancelled attempt is not counted against the new state")

	s.Run("older notice arriving late is ignored", func() {
		s.dispatch(s.notice(exclusionID, 1, "active"))
		d := s.delivery(exclusionID, op.ID)
		s.Equal(2, d.StateVersion)
		s.Equal(2, s.auditStore.CountAction(audit.EntityDelivery, exclusionID.String(), audit.ActionDeliveryDispatched))
	})

	s.Run("acknowledging the newer state does not count for the older one", func() {
		summary, err := s.engine.Summary(s.ctx, exclusionID, 1)
		s.Require().NoError(err)
		s.Equal(models.AggregateInProgress, summary.Status)
		s.Equal(0, summary.OperatorsAcknowledged)
	})
}

// interleavingStore runs onBegin once, right after an attempt has marked a
// mapping notified and before the engine sends.
type interleavingStore struct {
	*store.InMemory
	once    sync.Once
	onBegin func(d *models.Delivery)
}

func (s *interleavingStore) Execute(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID, validate func(*models.Delivery) error, mutate func(*models.Delivery)) (*models.Delivery, error) {
	d, err := s.InMemory.Execute(ctx, exclusionID, operatorID, validate, mutate)
	if err == nil && d.Status == models.DeliveryNotified && s.onBegin != nil {
		s.once.Do(func() { s.onBegin(d) })
	}
	return d, err
}

func (s *EngineSuite) TestRevokeCommittedMidAttemptIsNeverSentStale() {
	s.addOperators(1)
	var (
		mu   sync.Mutex
		sent []string
	)
	s.sender.set(func(_ context.Context, _ *opmodels.Operator, n models.Notice) error {
		mu.Lock()
		sent = append(sent, n.Status)
		mu.Unlock()
		return nil
	})

	exclusionID := id.NewExclusionID()
	st := &interleavingStore{InMemory: s.store}
	engine := New(st, s.directory, s.sender, tx.NewInMemory(), audit.NewTrail(s.auditStore),
		WithConfig(Config{MaxRetries: 3, BackoffCap: 30 * time.Second}),
		WithQueue(s.queue),
		WithClock(s.clock.Now),
	)
	defer engine.Close()
	st.onBegin = func(d *models.Delivery) {
		s.Equal(1, d.StateVersion)
		s.NoError(engine.Dispatch(s.ctx, s.notice(exclusionID, 2, "revoked")))
	}

	s.Require().NoError(engine.Dispatch(s.ctx, s.notice(exclusionID, 1, "active")))
	engine.Wait()

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"revoked"}, sent)
	for _, d := range s.mustList(exclusionID) {
		s.Equal(2, d.StateVersion)
		s.Equal(models.DeliveryAcknowledged, d.Status)
		s.Equal(0, d.RetryCount)
	}
}

func (s *EngineSuite) TestNewerNoticeFromAnotherInstanceSuppressesAttempt() {
	op := s.addOperators(1)[0]
	exclusionID := id.NewExclusionID()
	st := &interleavingStore{InMemory: s.store}
	engine := New(st, s.directory, s.sender, tx.NewInMemory(), audit.NewTrail(s.auditStore),
		WithConfig(Config{MaxRetries: 3, BackoffCap: 30 * time.Second}),
		WithQueue(s.queue),
		WithClock(s.clock.Now),
	)
	defer engine.Close()
	st.onBegin = func(*models.Delivery) {
		// Another instance records the newer state; this engine is never told.
		saved, err := s.store.SaveNotice(s.ctx, s.notice(exclusionID, 2, "revoked"))
		s.NoError(err)
		s.True(saved)
	}

	s.Require().NoError(engine.Dispatch(s.ctx, s.notice(exclusionID, 1, "active")))
	engine.Wait()

	s.Equal(0, s.sender.callsFor(op.ID))
}

func (s *EngineSuite) mustList(exclusionID id.ExclusionID) []*models.Delivery {
	ds, err := s.store.ListByExclusion(s.ctx, exclusionID)
	s.Require().NoError(err)
	s.Require().NotEmpty(ds)
	return ds
}

func (s *EngineSuite) TestSummaryWithoutDispatchIsPending() {
	summary, err := s.engine.GetComplianceSummary(s.ctx, id.NewExclusionID())
	s.Require().NoError(err)
	s.Equal(models.AggregatePending, summary.Status)
	s.Equal(0, summary.StateVersion)
	s.Equal(0, summary.OperatorsTotal)
}

func (s *EngineSuite) TestRecoverRetriesInterruptedAttempt() {
	op := s.addOperators(1)[0]
	exclusionID := id.NewExclusionID()
	n := s.notice(exclusionID, 1, "active")

	// A previous process crashed mid-attempt.
	_, err := s.store.SaveNotice(s.ctx, n)
	s.Require().NoError(err)
	_, _, err = s.store.EnsureForVersion(s.ctx, exclusionID, op.ID, 1, 3, s.clock.Now())
	s.Require().NoError(err)
	_, err = s.store.Execute(s.ctx, exclusionID, op.ID,
		func(*models.Delivery) error { return nil },
		func(d *models.Delivery) { d.BeginAttempt(s.clock.Now()) },
	)
	s.Require().NoError(err)

	s.Equal(0, s.engine.recover(s.ctx), "attempt is not stale yet")

	s.clock.Advance(time.Minute)
	s.Equal(1, s.engine.recover(s.ctx))
	d := s.delivery(exclusionID, op.ID)
	s.Equal(models.DeliveryTimeout, d.Status)
	s.Equal(1, d.RetryCount)

	s.clock.Advance(2 * time.Second)
	s.Equal(1, s.engine.pollOnce(s.ctx))
	s.engine.Wait()
	s.Equal(models.DeliveryAcknowledged, s.delivery(exclusionID, op.ID).Status)
}

func (s *EngineSuite) TestRecoverRequeuesPendingRows() {
	op := s.addOperators(1)[0]
	exclusionID := id.NewExclusionID()
	_, err := s.store.SaveNotice(s.ctx, s.notice(exclusionID, 1, "active"))
	s.Require().NoError(err)
	_, _, err = s.store.EnsureForVersion(s.ctx, exclusionID, op.ID, 1, 3, s.clock.Now())
	s.Require().NoError(err)

	s.Equal(1, s.engine.recover(s.ctx))
	s.Equal(1, s.engine.pollOnce(s.ctx))
	s.engine.Wait()
	s.Equal(models.DeliveryAcknowledged, s.delivery(exclusionID, op.ID).Status)
}

func (s *EngineSuite) TestBackfillNewOperator() {
	s.addOperators(1)
	active := id.NewExclusionID()
	ended := id.NewExclusionID()
	s.dispatch(s.notice(active, 1, "active"))
	s.dispatch(s.notice(ended, 3, "terminated"))

	late := s.addOperators(1)[0]
	launched, err := s.engine.Backfill(s.ctx, late.ID)
	s.Require().NoError(err)
	s.Equal(1, launched)
	s.engine.Wait()

	s.Equal(models.DeliveryAcknowledged, s.delivery(active, late.ID).Status)
	_, err = s.store.FindDelivery(s.ctx, ended, late.ID)
	s.Error(err, "ended exclusions are not sent to operators that never knew them")

	launched, err = s.engine.Backfill(s.ctx, late.ID)
	s.Require().NoError(err)
	s.Equal(0, launched, "backfill is idempotent")
}

func (s *EngineSuite) TestSuspendedOperatorIsNotContacted() {
	ctrl := gomock.NewController(s.T())
	directory := mocks.NewMockDirectory(ctrl)
	snd := mocks.NewMockSender(ctrl)
	engine := s.newEngine(Config{MaxRetries: 3}, directory, snd)
	defer engine.Close()

	op := s.addOperators(1)[0]
	suspended := *op
	suspended.LicenseStatus = opmodels.LicenseSuspended
	directory.EXPECT().ListActive(gomock.Any()).Return([]*opmodels.Operator{op}, nil)
	directory.EXPECT().Get(gomock.Any(), op.ID).Return(&suspended, nil)

	exclusionID := id.NewExclusionID()
	s.Require().NoError(engine.Dispatch(s.ctx, s.notice(exclusionID, 1, "active")))
	engine.Wait()

	d := s.delivery(exclusionID, op.ID)
	s.Equal(models.DeliveryFailed, d.Status)
	s.Contains(d.LastError, "suspended")
}
