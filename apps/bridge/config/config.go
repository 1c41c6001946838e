package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/frame/config"
)

type BridgeConfig struct {
	config.ConfigurationDefault

	// DeviceStoreURI is the datastore holding the protocol client's device
	// and key material. Kept separate from the service datastore so the
	// client library can own its own schema.
	DeviceStoreURI     string `envDefault:"file:bridge-devices.db?_foreign_keys=on" env:"DEVICE_STORE_URI"`
	DeviceStoreDialect string `envDefault:"sqlite3"                                 env:"DEVICE_STORE_DIALECT"`

	// DeviceDisplayName is shown on the user's primary device after pairing.
	DeviceDisplayName string `envDefault:"Chrome (Linux)" env:"DEVICE_DISPLAY_NAME"`

	CacheURI string `envDefault:"mem://" env:"CACHE_URI"`

	// AdminAccountIDs receive lifecycle notices over the platform itself.
	AdminAccountIDs []string `envDefault:"" env:"ADMIN_ACCOUNT_IDS"`

	QueueLifecycleName string `envDefault:"bridge.lifecycle"       env:"QUEUE_LIFECYCLE_NAME"`
	QueueLifecycleURI  string `envDefault:"mem://bridge.lifecycle" env:"QUEUE_LIFECYCLE_URI"`

	QueueDeadLetterName string `envDefault:"dead.letter.queue"       env:"QUEUE_DEAD_LETTER_NAME"`
	QueueDeadLetterURI  string `envDefault:"mem://dead.letter.queue" env:"QUEUE_DEAD_LETTER_URI"`

	// MaxDeliveryRetries caps redeliveries of a queue message before it is
	// routed to the dead-letter queue.
	MaxDeliveryRetries int `envDefault:"5" env:"MAX_DELIVERY_RETRIES"`

	// Pairing code issuance.
	PairingMaxRetries int           `envDefault:"3"  env:"PAIRING_MAX_RETRIES"`
	PairingRetryDelay time.Duration `envDefault:"2s" env:"PAIRING_RETRY_DELAY"`

	// Connection lifecycle.
	ConnectSettleDelay time.Duration `envDefault:"3s"  env:"CONNECT_SETTLE_DELAY"`
	RestartDelayBase   time.Duration `envDefault:"10s" env:"RESTART_DELAY_BASE"`
	MaxRestartAttempts int           `envDefault:"5"   env:"MAX_RESTART_ATTEMPTS"`

	MaxConcurrentConnections int `envDefault:"5" env:"MAX_CONCURRENT_CONNECTIONS"`

	// ReconnectOnStartup replays the tracked-account list when the process
	// comes up.
	ReconnectOnStartup bool `envDefault:"true" env:"RECONNECT_ON_STARTUP"`
}

// Validate checks that the configuration is valid.
func (c *BridgeConfig) Validate() error {
	var errs []error

	if c.DeviceStoreURI == "" {
		errs = append(errs, errors.New("DeviceStoreURI cannot be empty"))
	}
	if c.PairingMaxRetries <= 0 {
		errs = append(errs, errors.New("PairingMaxRetries must be > 0"))
	}
	if c.MaxDeliveryRetries <= 0 {
		errs = append(errs, errors.New("MaxDeliveryRetries must be > 0"))
	}
	if c.MaxRestartAttempts <= 0 {
		errs = append(errs, errors.New("MaxRestartAttempts must be > 0"))
	}
	if c.RestartDelayBase <= 0 {
		errs = append(errs, errors.New("RestartDelayBase must be > 0"))
	}
	if c.MaxConcurrentConnections <= 0 {
		errs = append(errs, errors.New("MaxConcurrentConnections must be > 0"))
	}

	if err := validateQueueURI(c.QueueLifecycleURI, "QueueLifecycleURI"); err != nil {
		errs = append(errs, err)
	}
	if err := validateQueueURI(c.QueueDeadLetterURI, "QueueDeadLetterURI"); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateQueueURI checks that a queue URI has a valid scheme.
func validateQueueURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"mem://", "redis://", "amqp://", "nats://", "kafka://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}
