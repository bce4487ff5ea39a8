package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/tidwall/gjson"
)

func LoadAWSConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	return cfg, nil
}

type SNSPublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSAlerter pages operators through an SNS topic.
type SNSAlerter struct {
	client   SNSPublishAPI
	topicArn string
}

func NewSNSAlerter(client SNSPublishAPI, topicArn string) *SNSAlerter {
	return &SNSAlerter{client: client, topicArn: topicArn}
}

func (a *SNSAlerter) Alert(ctx context.Context, subject string, message string) error {
	// SNS rejects subjects longer than 100 characters.
	if len(subject) > 100 {
		subject = subject[:100]
	}
	out, err := a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return err
	}
	WithComponent("alerts").Info().Str("message_id", aws.ToString(out.MessageId)).Str("subject", subject).Msg("alert published")
	return nil
}

type SecretsGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// GetSecretValue reads a secret string. JSON secrets are unwrapped by field
// name; plain strings are returned as is.
func GetSecretValue(ctx context.Context, client SecretsGetter, arn string, field string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", arn, err)
	}
	raw := aws.ToString(out.SecretString)
	if raw == "" {
		return "", errors.New("secret has no string value")
	}
	if field != "" && gjson.Valid(raw) {
		v := gjson.Get(raw, field)
		if !v.Exists() {
			return "", fmt.Errorf("secret %s has no field %s", arn, field)
		}
		return v.String(), nil
	}
	return raw, nil
}
