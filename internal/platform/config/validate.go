package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError names the settings that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

func validate(cfg Config) error {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")

	switch cfg.Store.Backend {
	case StoreBackendFirestore:
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case StoreBackendMemory:
	default:
		check(false, "Store.Backend")
	}

	check(cfg.Orders.ReservationWindow > 0, "Orders.ReservationWindow")
	check(cfg.Orders.DefaultDeliveryCost >= 0, "Orders.DefaultDeliveryCost")
	check(cfg.Orders.RateWindow >= 0, "Orders.RateWindow")
	check(cfg.Sweeper.BatchSize > 0 && cfg.Sweeper.BatchSize <= maxSweepBatchSize, "Sweeper.BatchSize")
	check(!cfg.Sweeper.Enabled || cfg.Sweeper.Interval > 0, "Sweeper.Interval")
	check(cfg.Transactions.MaxAttempts > 0, "Transactions.MaxAttempts")
	check(cfg.Transactions.InitialBackoff > 0 && cfg.Transactions.MaxBackoff >= cfg.Transactions.InitialBackoff, "Transactions.Backoff")

	switch cfg.Events.Backend {
	case EventsBackendLocal:
	case EventsBackendPubSub:
		check(strings.TrimSpace(cfg.Events.PubSubTopic) != "", "Events.PubSubTopic")
		check(cfg.Firestore.ProjectID != "" || cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	case EventsBackendKafka:
		check(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		check(strings.TrimSpace(cfg.Events.KafkaTopic) != "", "Events.KafkaTopic")
	default:
		check(false, "Events.Backend")
	}

	check(cfg.RateLimits.PublicPerMinute >= 0, "RateLimits.PublicPerMinute")
	check(cfg.Mail.SMTPHost == "" || (cfg.Mail.SMTPPort > 0 && strings.TrimSpace(cfg.Mail.From) != ""), "Mail.From")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
