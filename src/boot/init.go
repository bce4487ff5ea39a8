package boot

import (
	"context"
	"esm/src/common"
	"esm/src/config"
	"esm/src/db"
	"esm/src/lib"
	"esm/src/lib/khalti"
	"esm/src/models"
	"esm/src/payments"
	"fmt"

	awslib "esm/src/lib/aws"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"gorm.io/gorm"
)

func InitDb(cfg *config.Config) (*gorm.DB, error) {
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(conn); err != nil {
		return nil, fmt.Errorf("error migration: %w", err)
	}
	return conn, nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Khalti.SecretKey == "" || cfg.AWS.AlertTopicARN != "" || cfg.AWS.VerificationQueue != ""
}

// Deps are the collaborators of the payment service built at startup.
type Deps struct {
	AWS       *aws.Config
	Gateway   *khalti.Client
	Options   []payments.Option
	publisher *lib.KafkaPublisher
}

func (d *Deps) Close() {
	if d.publisher != nil {
		d.publisher.Close()
	}
}

// InitDeps wires the Khalti client and the optional redis, kafka and SNS
// integrations. Optional integrations that fail to start are logged and skipped.
func InitDeps(ctx context.Context, cfg *config.Config) (*Deps, error) {
	log := lib.WithComponent("boot")
	deps := &Deps{}
	if needsAWS(cfg) {
		awsCfg, err := lib.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		deps.AWS = &awsCfg
	}

	var khaltiOpts []khalti.Option
	if cfg.Khalti.SecretKey == "" {
		key, err := lib.GetSecretValue(ctx, secretsmanager.NewFromConfig(*deps.AWS), cfg.Khalti.SecretARN, "KHALTI_SECRET_KEY")
		if err != nil {
			return nil, err
		}
		khaltiOpts = append(khaltiOpts, khalti.WithSecretKey(key))
	}
	deps.Gateway = khalti.NewClient(cfg.Khalti, khaltiOpts...)

	if rd := lib.GetRedisClient(cfg.Redis); rd != nil {
		deps.Options = append(deps.Options, payments.WithLocker(lib.NewRedisLocker(rd, cfg.Redis.VerifyLockTTL)))
	} else {
		log.Warn().Msg("REDIS_HOST not set, verification runs without a distributed lock")
	}

	if cfg.Kafka.Broker != "" {
		if _, err := lib.KafkaCreateTopics(ctx, cfg.Kafka, lib.TopicPaymentCompleted, lib.TopicPaymentFailed); err != nil {
			log.Warn().Err(err).Msg("could not create payment topics")
		}
		p, err := lib.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			log.Error().Err(err).Msg("kafka producer unavailable, payment events disabled")
		} else {
			deps.publisher = p
			deps.Options = append(deps.Options, payments.WithPublisher(p))
		}
	}

	if cfg.AWS.AlertTopicARN != "" {
		deps.Options = append(deps.Options, payments.WithAlerter(lib.NewSNSAlerter(sns.NewFromConfig(*deps.AWS), cfg.AWS.AlertTopicARN)))
	}
	return deps, nil
}

func InitScheduler(svc *payments.Service, cfg config.SweeperConfig) error {
	sweeper := common.NewSweeper(svc, cfg)
	if _, err := lib.CreateIntervalJob("payments-sweeper", cfg.Interval, sweeper.Run); err != nil {
		return err
	}
	sched, err := lib.GetScheduler()
	if err != nil {
		return err
	}
	sched.Start()
	return nil
}

func StopScheduler() {
	log := lib.WithComponent("boot")
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Error().Err(err).Msg("error retrieving scheduler")
		return
	}
	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("error stopping scheduler")
	}
}

// InitBroker starts the verification queue consumer when a queue is configured.
func InitBroker(ctx context.Context, cfg *config.Config, deps *Deps, svc *payments.Service) {
	if cfg.AWS.VerificationQueue == "" || deps.AWS == nil {
		return
	}
	consumer := awslib.NewSQSConsumer(sqs.NewFromConfig(*deps.AWS), cfg.AWS.VerificationQueue, common.PaymentVerificationHandler(svc))
	go common.ListenForVerifications(ctx, consumer)
}
