//go:build integration

package outbox_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"nser/internal/platform/kafka"
	audit "nser/pkg/platform/audit"
	"nser/pkg/platform/audit/outbox"
	auditpostgres "nser/pkg/platform/audit/store/postgres"
	"nser/pkg/testutil/containers"
)

type RelaySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	producer *kafka.Producer
	trail    *audit.Trail
	relay    *outbox.Relay
	topic    string
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())

	ctx := context.Background()
	producer, err := kafka.NewProducer(ctx, kafka.Config{Brokers: s.redpanda.Brokers, ClientID: "relay-test"})
	s.Require().NoError(err)
	s.producer = producer

	s.topic = "audit-" + uuid.NewString()[:8]
	s.Require().NoError(s.producer.EnsureTopics(ctx, 1, 1, s.topic))

	s.trail = audit.NewTrail(auditpostgres.New(s.postgres.DB))
	s.relay = outbox.NewRelay(outbox.NewPostgresStore(s.postgres.DB), s.producer, s.topic, outbox.WithBatchSize(10))
}

func (s *RelaySuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *RelaySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "outbox", "audit_entries"))
}

func (s *RelaySuite) TestEntriesReachTheTopicOnce() {
	ctx := context.Background()
	exclusionID := uuid.NewString()
	for _, action := range []audit.Action{audit.ActionExclusionRegistered, audit.ActionExclusionActivated} {
		s.Require().NoError(s.trail.Record(ctx, audit.Change{
			EntityType: audit.EntityExclusion,
			EntityID:   exclusionID,
			Action:     action,
		}))
	}

	n, err := s.relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = s.relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Zero(n, "relayed rows are not sent again")

	records := s.consume(ctx, 2)
	var first map[string]any
	s.Require().NoError(json.Unmarshal(records[0].Value, &first))
	s.Equal(string(audit.ActionExclusionRegistered), first["action"])
	s.Equal("exclusion:"+exclusionID, string(records[0].Key))
}

func (s *RelaySuite) consume(ctx context.Context, want int) []*kgo.Record {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var out []*kgo.Record
	for len(out) < want {
		fetches := client.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "timed out waiting for %d records", want)
		fetches.EachRecord(func(r *kgo.Record) {
			out = append(out, r)
		})
	}
	return out
}
