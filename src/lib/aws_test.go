package lib

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

type fakeSecrets struct {
	value string
	err   error
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.value)}, nil
}

func TestSNSAlerter(t *testing.T) {
	client := &fakeSNS{}
	alerter := NewSNSAlerter(client, "arn:aws:sns:ap-south-1:000000000000:payments")

	err := alerter.Alert(context.Background(), strings.Repeat("x", 150), "duplicate payment")
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)
	assert.Len(t, aws.ToString(client.inputs[0].Subject), 100)
	assert.Equal(t, "duplicate payment", aws.ToString(client.inputs[0].Message))

	client.err = errors.New("throttled")
	assert.Error(t, alerter.Alert(context.Background(), "s", "m"))
}

func TestGetSecretValue(t *testing.T) {
	ctx := context.Background()

	v, err := GetSecretValue(ctx, &fakeSecrets{value: `{"KHALTI_SECRET_KEY":"live_secret"}`}, "arn", "KHALTI_SECRET_KEY")
	require.NoError(t, err)
	assert.Equal(t, "live_secret", v)

	v, err = GetSecretValue(ctx, &fakeSecrets{value: "plain_secret"}, "arn", "KHALTI_SECRET_KEY")
	require.NoError(t, err)
	assert.Equal(t, "plain_secret", v)

	_, err = GetSecretValue(ctx, &fakeSecrets{value: `{"other":"x"}`}, "arn", "KHALTI_SECRET_KEY")
	assert.Error(t, err)

	_, err = GetSecretValue(ctx, &fakeSecrets{err: errors.New("denied")}, "arn", "KHALTI_SECRET_KEY")
	assert.Error(t, err)
}
