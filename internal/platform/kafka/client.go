// Package kafka builds franz-go producers for outbound event streams.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Client wraps a franz-go client bound to a default topic.
type Client struct {
	*kgo.Client
	topic string
}

// New connects to the brokers and verifies reachability.
func New(ctx context.Context, brokers []string, topic string) (*Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cl.Ping(pingCtx); err != nil {
		cl.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}
	return &Client{Client: cl, topic: topic}, nil
}

func (c *Client) Topic() string { return c.topic }

// EnsureTopic creates the default topic if it does not exist yet.
func (c *Client) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(c.Client)
	resps, err := adm.CreateTopics(ctx, partitions, replication, nil, c.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", c.topic, err)
	}
	for _, r := range resps {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
