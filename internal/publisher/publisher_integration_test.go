package publisher_test

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"SynthEngine/internal/event"
	"SynthEngine/internal/publisher"
	"SynthEngine/internal/testutil"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

func TestPublisher_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := publisher.Connect(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := publisher.EnsureStream(ctx, js); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}

	input := make(chan event.Envelope, 4)
	pub := publisher.New(js, input, zerolog.Nop(), nil)

	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	sent := event.Envelope{
		Sequence:  42,
		ID:        uuid.New(),
		Kind:      event.KindLiquidationExecuted,
		Timestamp: time.Now(),
		Payload: event.LiquidationExecuted{
			Liquidator:       testutil.Addr(0xb0),
			Account:          testutil.Addr(0xa1),
			Asset:            testutil.Addr(0x01),
			DebtCovered:      big.NewInt(100),
			CollateralSeized: big.NewInt(110),
		},
	}
	input <- sent
	close(input)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("publisher: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("publisher did not drain in time")
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, publisher.StreamName, jetstream.ConsumerConfig{
		FilterSubject: "synth.engine.events.LiquidationExecuted",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverLastPolicy,
	})
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}

	msg, err := consumer.Next(jetstream.FetchMaxWait(5 * time.Second))
	if err != nil {
		t.Fatalf("fetch published message: %v", err)
	}
	msg.Ack()

	var got struct {
		Sequence int64  `json:"sequence"`
		Kind     string `json:"kind"`
	}
	if err := json.Unmarshal(msg.Data(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sequence != sent.Sequence {
		t.Errorf("sequence: got %d, want %d", got.Sequence, sent.Sequence)
	}
}
