package app

import (
	"fmt"

	"roomgraph/internal/common/logging"
	"roomgraph/internal/config"
	"roomgraph/internal/transport"
	"roomgraph/internal/transport/gcp"
	"roomgraph/internal/transport/kafka"
	"roomgraph/internal/transport/memory"
	"roomgraph/internal/transport/nats"
	"roomgraph/internal/transport/rabbitmq"
	"roomgraph/internal/transport/redis"
)

// RegisterTransportFactories registers every transport implementation
func RegisterTransportFactories(registry *transport.Registry) {
	registry.Register("memory", memory.Factory{})
	registry.Register("redis", redis.Factory{})
	registry.Register("rabbitmq", rabbitmq.Factory{})
	registry.Register("kafka", kafka.Factory{})
	registry.Register("gcp", gcp.Factory{})
	registry.Register("nats", nats.Factory{})
}

// transportConfig builds the configuration of the selected transport
func transportConfig(cfg *config.Config) (transport.Config, error) {
	switch cfg.Transport {
	case "memory":
		c := memory.DefaultConfig()
		c.Buffer = cfg.TransportBuffer
		return c, nil

	case "redis":
		c := redis.DefaultConfig()
		c.Address = cfg.RedisAddress
		c.Password = cfg.RedisPassword
		c.DB = cfg.RedisDB
		c.PoolSize = cfg.RedisPoolSize
		c.ChannelPrefix = cfg.RedisChannelPrefix
		c.Buffer = cfg.TransportBuffer
		return c, nil

	case "rabbitmq":
		c := rabbitmq.DefaultConfig()
		c.URL = cfg.RabbitMQURL
		c.PoolSize = cfg.RabbitMQPoolSize
		c.ExchangePrefix = cfg.RabbitMQExchangePrefix
		c.Buffer = cfg.TransportBuffer
		return c, nil

	case "kafka":
		c := kafka.DefaultConfig()
		c.Brokers = cfg.KafkaBrokers
		c.ClientID = cfg.KafkaClientID
		c.TopicPrefix = cfg.KafkaTopicPrefix
		c.SecurityProtocol = cfg.KafkaSecurityProtocol
		c.SASLMechanism = cfg.KafkaSASLMechanism
		c.SASLUsername = cfg.KafkaSASLUsername
		c.SASLPassword = cfg.KafkaSASLPassword
		c.Buffer = cfg.TransportBuffer
		return c, nil

	case "gcp":
		c := gcp.DefaultConfig()
		c.ProjectID = cfg.GCPProjectID
		c.CredentialsPath = cfg.GCPCredentialsPath
		c.Endpoint = cfg.GCPEndpoint
		c.TopicPrefix = cfg.GCPTopicPrefix
		c.Buffer = cfg.TransportBuffer
		return c, nil

	case "nats":
		c := nats.DefaultConfig()
		c.URL = cfg.NATSURL
		c.Username = cfg.NATSUsername
		c.Password = cfg.NATSPassword
		c.Token = cfg.NATSToken
		c.SubjectPrefix = cfg.NATSSubjectPrefix
		c.Buffer = cfg.TransportBuffer
		return c, nil
	}
	return nil, fmt.Errorf("unknown transport type: %s", cfg.Transport)
}

func (app *App) initializeTransport() error {
	registry := transport.NewRegistry()
	RegisterTransportFactories(registry)

	tc, err := transportConfig(app.Config)
	if err != nil {
		return err
	}

	tr, err := registry.Create(app.Config.Transport, tc)
	if err != nil {
		return fmt.Errorf("failed to initialize transport: %w", err)
	}

	app.Logger.Info("Transport ready",
		logging.String("type", app.Config.Transport),
		logging.String("connection", tc.GetConnectionString()),
		logging.String("codec", app.Config.EventCodec),
	)
	app.Transport = tr
	return nil
}
