package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// snsAPI is the subset of *sns.Client used here.
type snsAPI interface {
	CreateTopic(ctx context.Context, in *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Subscribe(ctx context.Context, in *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	SetSubscriptionAttributes(ctx context.Context, in *sns.SetSubscriptionAttributesInput, optFns ...func(*sns.Options)) (*sns.SetSubscriptionAttributesOutput, error)
	ListSubscriptionsByTopic(ctx context.Context, in *sns.ListSubscriptionsByTopicInput, optFns ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient implements Client on AWS SNS.
type SNSClient struct {
	api    snsAPI
	region string
}

// NewSNSClient loads the default AWS configuration (environment, shared
// config, or instance role) and returns a client whose HTTP calls are bounded
// by timeout. Build it once per process and share it.
func NewSNSClient(ctx context.Context, region string, timeout time.Duration) (*SNSClient, error) {
	httpClient := awshttp.NewBuildableClient().WithTimeout(timeout)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithHTTPClient(httpClient),
		config.WithRetryMaxAttempts(1), // retries belong to the invoking environment
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	slog.Info("SNS client initialized", "region", region, "timeout", timeout)

	return &SNSClient{api: sns.NewFromConfig(cfg), region: region}, nil
}

// CreateTopic implements Client. SNS CreateTopic is idempotent per name.
func (c *SNSClient) CreateTopic(ctx context.Context, name string) (string, error) {
	out, err := c.api.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to create topic %s: %w", name, err)
	}
	return aws.ToString(out.TopicArn), nil
}

// Subscribe implements Client.
func (c *SNSClient) Subscribe(ctx context.Context, topicARN, protocol, endpoint string) (string, error) {
	out, err := c.api.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:              aws.String(topicARN),
		Protocol:              aws.String(protocol),
		Endpoint:              aws.String(endpoint),
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to subscribe %s: %w", endpoint, err)
	}
	return aws.ToString(out.SubscriptionArn), nil
}

// SetFilterPolicy implements Client.
func (c *SNSClient) SetFilterPolicy(ctx context.Context, subscriptionARN, policyJSON string) error {
	_, err := c.api.SetSubscriptionAttributes(ctx, &sns.SetSubscriptionAttributesInput{
		SubscriptionArn: aws.String(subscriptionARN),
		AttributeName:   aws.String("FilterPolicy"),
		AttributeValue:  aws.String(policyJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to set filter policy on %s: %w", subscriptionARN, err)
	}
	return nil
}

// ListSubscriptions implements Client.
func (c *SNSClient) ListSubscriptions(ctx context.Context, topicARN, nextToken string) (Page, error) {
	in := &sns.ListSubscriptionsByTopicInput{TopicArn: aws.String(topicARN)}
	if nextToken != "" {
		in.NextToken = aws.String(nextToken)
	}

	out, err := c.api.ListSubscriptionsByTopic(ctx, in)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list subscriptions of %s: %w", topicARN, err)
	}

	page := Page{
		Subscriptions: make([]Subscription, 0, len(out.Subscriptions)),
		NextToken:     aws.ToString(out.NextToken),
	}
	for _, s := range out.Subscriptions {
		page.Subscriptions = append(page.Subscriptions, Subscription{
			Endpoint:        aws.ToString(s.Endpoint),
			Protocol:        aws.ToString(s.Protocol),
			SubscriptionARN: aws.ToString(s.SubscriptionArn),
		})
	}
	return page, nil
}

// Publish implements Client.
func (c *SNSClient) Publish(ctx context.Context, msg Message) (string, error) {
	attrs := make(map[string]types.MessageAttributeValue, len(msg.Attributes))
	for _, a := range msg.Attributes {
		attrs[a.Name] = types.MessageAttributeValue{
			DataType:    aws.String(a.DataType),
			StringValue: aws.String(a.Value),
		}
	}

	out, err := c.api.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(msg.TopicARN),
		Subject:           aws.String(msg.Subject),
		Message:           aws.String(msg.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", msg.TopicARN, err)
	}
	return aws.ToString(out.MessageId), nil
}

var _ Client = (*SNSClient)(nil)
