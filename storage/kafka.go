package storage

import (
	"encoding/json"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/pathviewer/wsiview/wsi"

	"github.com/Shopify/sarama"
)

var (
	// producer
	kafkaProducer sarama.AsyncProducer
	kafkaMu       sync.RWMutex

	// the kafka topic for activity logging
	kafkaActivityTopicName string
)

// KafkaMaxMessageSize is the max message size in bytes for a Kafka message.
const KafkaMaxMessageSize = 980 * wsi.Kilo

// KafkaConfig describes kafka servers for activity logging.
type KafkaConfig struct {
	TopicActivity string   `toml:"topic_activity"` // if supplied, will be override topic for activity log
	Servers       []string `toml:"servers"`
}

// KafkaActivityTopic returns the topic name used for logging activity for this server.
func KafkaActivityTopic() string {
	kafkaMu.RLock()
	defer kafkaMu.RUnlock()
	return kafkaActivityTopicName
}

// ActivityTopicName returns the activity topic for the configuration and host.
func (kc KafkaConfig) ActivityTopicName(hostID string) string {
	name := kc.TopicActivity
	if name == "" {
		name = "wsiviewactivity-" + hostID
	}
	reg := regexp.MustCompile(`[^a-zA-Z0-9\._\-]+`)
	return reg.ReplaceAllString(name, "-")
}

// Initialize starts an async producer if kafka servers are configured.
func (kc KafkaConfig) Initialize(hostID string) error {
	if len(kc.Servers) == 0 {
		return nil
	}
	config := sarama.NewConfig()
	config.Producer.MaxMessageBytes = KafkaMaxMessageSize
	producer, err := sarama.NewAsyncProducer(kc.Servers, config)
	if err != nil {
		return err
	}
	topic := kc.ActivityTopicName(hostID)
	setKafkaProducer(producer, topic)
	wsi.Infof("Kafka topic for wsiview activity: %s\n", topic)
	return nil
}

// setKafkaProducer installs a producer and starts logging its errors.
func setKafkaProducer(producer sarama.AsyncProducer, topic string) {
	kafkaMu.Lock()
	kafkaProducer = producer
	kafkaActivityTopicName = topic
	kafkaMu.Unlock()

	go func() {
		for err := range producer.Errors() {
			wsi.Errorf("error on kafka send: %v\n", err)
		}
	}()
}

// KafkaShutdown makes sure that the kafka queue is flushed before stopping.
func KafkaShutdown() {
	kafkaMu.Lock()
	defer kafkaMu.Unlock()
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			wsi.Errorf("Kafka producer had error on close: %v\n", err)
		} else {
			wsi.Infof("Successfully shut down kafka producer.\n")
		}
		kafkaProducer = nil
	}
}

// LogActivity publishes activity, e.g., pyramid opens, to the activity topic if
// kafka is configured.
func LogActivity(activity map[string]interface{}) {
	kafkaMu.RLock()
	configured, topic := kafkaProducer != nil, kafkaActivityTopicName
	kafkaMu.RUnlock()
	if !configured {
		return
	}
	jsonmsg, err := json.Marshal(activity)
	if err != nil {
		wsi.Errorf("unable to marshal activity for kafka logging: %v\n", err)
		return
	}
	if err := KafkaProduceMsg(jsonmsg, topic); err != nil {
		wsi.Errorf("unable to publish activity: %v\n", err)
	}
}

// KafkaProduceMsg sends a message to kafka
func KafkaProduceMsg(value []byte, topicName string) error {
	kafkaMu.RLock()
	defer kafkaMu.RUnlock()
	if kafkaProducer == nil {
		return nil
	}
	timeKey := sarama.StringEncoder(strconv.FormatInt(time.Now().UnixNano(), 10))
	msg := &sarama.ProducerMessage{Topic: topicName, Value: sarama.ByteEncoder(value), Key: timeKey}
	kafkaProducer.Input() <- msg
	return nil
}
