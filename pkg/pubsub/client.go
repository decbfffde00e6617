package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client publishes run summaries to Pub/Sub topics.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub summary topic is required")
)

// NewClient creates a Pub/Sub v2 client and ensures the configured summary topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c, err := NewFromClient(ctx, psClient, gcp.ProjectID, cfg)
	if err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", cfg.SummaryTopic), "pubsub client initialized")
	}
	return c, nil
}

// NewFromClient wraps an existing Pub/Sub client, e.g. one dialed against an emulator.
func NewFromClient(ctx context.Context, psClient *pubsub.Client, projectID string, cfg config.PubSubConfig) (*Client, error) {
	if psClient == nil {
		return nil, errors.New("pubsub client is required")
	}
	c := &Client{
		client:     psClient,
		projectID:  projectID,
		cfg:        cfg,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.ensureTopicExists(ctx, cfg.SummaryTopic); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureTopicExists(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errNoTopic
	}
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return fmt.Errorf("topic %q not configured", name)
	}

	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", name)
		}
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
	return nil
}

// Publisher returns a cached publisher handle for the given topic ID/resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[fullName]; ok {
		return pub
	}
	pub := c.client.Publisher(fullName)
	c.publishers[fullName] = pub
	return pub
}

// SummaryTopic returns the configured topic for run summaries.
func (c *Client) SummaryTopic() string {
	if c == nil {
		return ""
	}
	return c.cfg.SummaryTopic
}

// Publish sends one message and waits for the server-assigned id.
func (c *Client) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	pub := c.Publisher(topic)
	if pub == nil {
		return "", fmt.Errorf("publisher for topic %q unavailable", topic)
	}
	res := pub.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %q: %w", topic, err)
	}
	return id, nil
}

// Ping verifies Pub/Sub connectivity by checking the summary topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.ensureTopicExists(ctx, c.cfg.SummaryTopic)
}

// Close flushes publishers and releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
