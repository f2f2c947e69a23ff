package bus

import (
	"context"

	"github.com/drblury/evbus/errs"
	"github.com/drblury/evbus/logging"
)

// PublishOptions configures a publish call.
type PublishOptions struct {
	Module         string
	SchemaVersion  string
	CorrelationID  string
	ParentEnvelope *Envelope
}

// Publish runs the fire-and-forget delivery path described in the publish
// path design: guard, construct, validate, log, then submit one dispatch
// task per listener in insertion order.
func (b *Bus) Publish(eventType string, payload any, opts PublishOptions) (Envelope, error) {
	if b.isClosed() {
		return Envelope{}, errs.ErrClosed
	}
	if opts.Module == "" {
		return Envelope{}, errs.ErrMissingModule
	}

	env, err := b.buildEnvelope(eventType, payload, opts)
	if err != nil {
		return Envelope{}, err
	}

	schemaVersion := env.SchemaVersion
	validator, ok := b.registry.Lookup(eventType, schemaVersion)
	if !ok {
		b.log().Error("publish-schema-missing", errs.ErrSchemaMissing, logging.LogFields{
			"event_type":     eventType,
			"schema_version": schemaVersion,
		})
		return Envelope{}, errs.ErrSchemaMissing
	}
	if err := validator.Validate(payload); err != nil {
		b.log().Error("publish-schema-validation-failed", err, logging.LogFields{
			"event_type": eventType,
		})
		return Envelope{}, errs.ErrSchemaValidationFailed
	}

	b.log().Info("event-published", logging.LogFields{
		"event_type":     eventType,
		"message_id":     env.MessageID,
		"correlation_id": env.CorrelationID,
	})

	for _, listener := range b.listeners.Snapshot(eventType) {
		listener := listener
		if listener.Schema != nil {
			if err := listener.Schema.Validate(env.Payload); err != nil {
				b.log().Error("schema-validation-failed", err, logging.LogFields{
					"event_type": eventType,
					"handler_id": listener.HandlerID,
				})
				continue
			}
		}
		task := WrapTask(b.log(), eventType, func() {
			_, span := startHandlerSpan(context.Background(), "dispatch.handler", env, listener.HandlerID)
			defer span.End()

			if _, err := listener.Handler(b, env); err != nil {
				span.RecordError(err)
				b.log().Error("handler-failed", err, logging.LogFields{
					"event_type": eventType,
					"handler_id": listener.HandlerID,
				})
			}
		})
		if err := b.executor.Submit(task); err != nil {
			tag := "dispatch-submit-failed"
			if err == errs.ErrBufferFull {
				tag = "buffer-full"
			}
			b.log().Error(tag, err, logging.LogFields{
				"event_type": eventType,
				"handler_id": listener.HandlerID,
			})
			if err == errs.ErrBufferFull {
				if b.metrics != nil {
					b.metrics.RecordBufferFull(eventType)
				}
				return env, errs.ErrBufferFull
			}
		}
	}

	return env, nil
}

func (b *Bus) buildEnvelope(eventType string, payload any, opts PublishOptions) (Envelope, error) {
	if opts.ParentEnvelope != nil {
		return DeriveEnvelope(*opts.ParentEnvelope, eventType, payload, DeriveOptions{
			Module:   opts.Module,
			MaxDepth: b.cfg.MaxDepth,
		})
	}
	return NewRootEnvelope(eventType, payload, RootOptions{
		Module:        opts.Module,
		SchemaVersion: opts.SchemaVersion,
		CorrelationID: opts.CorrelationID,
	})
}
