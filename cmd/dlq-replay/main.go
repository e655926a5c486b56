// Command dlq-replay возвращает сообщения из rms.dlq в исходные топики.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/rms/internal/service/outbox"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second

	envKafkaBrokers = "RMS_KAFKA_BROKERS"
)

// Виды сообщений в DLQ.
const (
	kindAll      = "all"
	kindConsumer = "consumer"
	kindOutbox   = "outbox"
)

type config struct {
	brokers     []string
	sourceTopic string
	eventsTopic string
	kind        string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// candidate — сообщение, готовое к повторной публикации.
type candidate struct {
	kind  string
	topic string
	key   string
	value []byte
	cause string
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type syncProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s saramaSource) Close() error {
	if s.consumer == nil {
		return nil
	}
	return s.consumer.Close()
}

// dialKafka подменяется в тестах.
var dialKafka = func(cfg config) (offsetClient, partitionSource, syncProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return client, saramaSource{consumer: consumer}, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, saramaSource{consumer: consumer}, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseConfig(args []string, lookup func(string) (string, bool), output io.Writer) (config, error) {
	var (
		cfg        config
		brokersRaw string
	)

	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&cfg.eventsTopic, "events-topic", kafka.TopicOrderEvents, "topic for replayed outbox events")
	fs.StringVar(&cfg.kind, "kind", kindAll, "which dead letters to replay: all, consumer or outbox")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max number of DLQ messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish candidates; without it only prints them")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw, _ = lookup(envKafkaBrokers)
	}
	cfg.brokers = splitBrokers(brokersRaw)
	cfg.kind = strings.ToLower(strings.TrimSpace(cfg.kind))

	var problems []error
	if len(cfg.brokers) == 0 {
		problems = append(problems, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers))
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		problems = append(problems, errors.New("source-topic is required"))
	}
	if strings.TrimSpace(cfg.eventsTopic) == "" {
		problems = append(problems, errors.New("events-topic is required"))
	}
	if !slices.Contains([]string{kindAll, kindConsumer, kindOutbox}, cfg.kind) {
		problems = append(problems, fmt.Errorf("unknown kind %q", cfg.kind))
	}
	if cfg.limit <= 0 {
		problems = append(problems, errors.New("limit must be > 0"))
	}
	if cfg.idleTimeout <= 0 {
		problems = append(problems, errors.New("idle-timeout must be > 0"))
	}
	return cfg, errors.Join(problems...)
}

func splitBrokers(raw string) []string {
	var brokers []string
	for chunk := range strings.SplitSeq(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"kind":         cfg.kind,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting dlq replay")

	client, source, producer, err := dialKafka(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = source.Close()
		_ = client.Close()
	}()

	r := &replayer{cfg: cfg, client: client, source: source, producer: producer}
	if err := r.run(ctx); err != nil {
		return err
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  r.stats.scanned,
		"replayed": r.stats.replayed,
		"skipped":  r.stats.skipped,
	}).Info("dlq replay finished")
	return nil
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

type replayer struct {
	cfg      config
	client   offsetClient
	source   partitionSource
	producer syncProducer
	stats    replayStats
}

func (r *replayer) run(ctx context.Context) error {
	if r.cfg.execute && r.producer == nil {
		return errors.New("producer is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if r.stats.scanned >= r.cfg.limit {
			break
		}
		if err := r.scanPartition(ctx, partition); err != nil {
			return err
		}
	}
	return nil
}

// scanPartition читает партицию до offset, зафиксированного на старте, чтобы не
// зациклиться на сообщениях, которые повторно упадут в DLQ во время прогона.
func (r *replayer) scanPartition(ctx context.Context, partition int32) error {
	topic := r.cfg.sourceTopic
	oldest, err := r.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(oldest, newest-int64(r.cfg.limit-r.stats.scanned))
	}

	pc, err := r.source.ConsumePartition(topic, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for r.stats.scanned < r.cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return nil
			}
			idle.Reset(r.cfg.idleTimeout)

			if err := r.handle(msg); err != nil {
				return err
			}
			if msg.Offset+1 >= newest {
				return nil
			}
		}
	}
	return nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	r.stats.scanned++
	entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	c, err := classify(msg, r.cfg.eventsTopic)
	if err != nil {
		r.stats.skipped++
		entry.WithError(err).Warn("skip unreadable dlq message")
		return nil
	}
	if r.cfg.kind != kindAll && r.cfg.kind != c.kind {
		r.stats.skipped++
		return nil
	}

	entry = entry.WithFields(log.Fields{
		"kind":         c.kind,
		"target_topic": c.topic,
		"key":          c.key,
		"cause":        c.cause,
	})
	if !r.cfg.execute {
		r.stats.replayed++
		entry.Info("dlq replay candidate")
		return nil
	}

	_, _, err = r.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     c.topic,
		Key:       sarama.StringEncoder(c.key),
		Value:     sarama.ByteEncoder(c.value),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("republish offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
	}
	r.stats.replayed++
	entry.Debug("dlq message replayed")
	return nil
}

// classify определяет происхождение сообщения DLQ и восстанавливает исходное.
// Consumer кладёт исходное сообщение в original_value; outbox worker публикует
// обычный конверт, в Payload которого лежит событие и ошибка публикации.
func classify(msg *sarama.ConsumerMessage, eventsTopic string) (candidate, error) {
	consumed, ok, err := kafka.ParseDeadLetter(msg.Value)
	if err != nil {
		return candidate{}, fmt.Errorf("decode dlq message: %w", err)
	}
	if ok {
		topic := firstNonEmpty(strings.TrimSpace(consumed.OriginalTopic), headerValue(msg, kafka.HeaderOriginalTopic))
		if topic == "" {
			return candidate{}, errors.New("consumer dead letter has no original topic")
		}
		return candidate{
			kind:  kindConsumer,
			topic: topic,
			key:   consumed.OriginalKey,
			value: []byte(consumed.OriginalValue),
			cause: firstNonEmpty(consumed.ErrorMessage, headerValue(msg, kafka.HeaderErrorMessage)),
		}, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return candidate{}, fmt.Errorf("decode outbox envelope: %w", err)
	}
	var dead outbox.DeadLetter
	if len(envelope.Payload) == 0 || json.Unmarshal(envelope.Payload, &dead) != nil || len(dead.Payload) == 0 {
		return candidate{}, errors.New("message is neither a consumer nor an outbox dead letter")
	}

	original := dead.Message()
	replay := kafka.Envelope{
		ID:            firstNonEmpty(original.ID, envelope.ID),
		AggregateType: firstNonEmpty(original.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(original.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(original.EventType, envelope.EventType),
		Payload:       original.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(replay)
	if err != nil {
		return candidate{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return candidate{
		kind:  kindOutbox,
		topic: eventsTopic,
		key:   firstNonEmpty(replay.AggregateID, replay.ID),
		value: value,
		cause: dead.PublishError,
	}, nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
