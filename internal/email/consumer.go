package email

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/service/event"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/logger"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/messaging"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/qrcode"
)

const (
	maxSendAttempts = 3
	sendRetryDelay  = 5 * time.Second
	qrImageSize     = 256
)

// Consumer delivers issuance emails off the broker, decoupled from the
// prescription transaction. Delivery failures never roll anything back;
// after bounded retries the failure is recorded as permanent.
type Consumer struct {
	broker   messaging.Broker
	emailSvc Service
	renderer qrcode.Renderer
	events   *event.Service
	logger   *logger.Logger
}

func NewConsumer(broker messaging.Broker, emailSvc Service, renderer qrcode.Renderer, events *event.Service, logger *logger.Logger) *Consumer {
	return &Consumer{
		broker:   broker,
		emailSvc: emailSvc,
		renderer: renderer,
		events:   events,
		logger:   logger,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.broker.Subscribe(ctx, model.EventPrescriptionIssued)
	if err != nil {
		return err
	}

	c.logger.Info("email consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("email consumer shutting down")
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, raw)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, raw []byte) {
	var evt model.PrescriptionIssuedEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		c.logger.Error(err, "failed to decode issuance event")
		return
	}

	png, err := c.renderer.RenderPNG(evt.TokenHash, qrImageSize)
	if err != nil {
		c.logger.Error(err, "failed to render QR image",
			"prescription_id", evt.PrescriptionID.String())
		return
	}

	var sendErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		sendErr = c.emailSvc.SendPrescriptionIssued(ctx, evt.PatientEmail, evt.PatientName, evt.ReferenceNumber, png)
		if sendErr == nil {
			c.logger.Info("issuance email delivered",
				"prescription_id", evt.PrescriptionID.String(),
				"reference", evt.ReferenceNumber)
			return
		}
		if attempt < maxSendAttempts {
			time.Sleep(sendRetryDelay)
		}
	}

	c.logger.Error(sendErr, "issuance email permanently failed",
		"prescription_id", evt.PrescriptionID.String(),
		"attempts", maxSendAttempts)

	if c.events != nil {
		err := c.events.Emit(ctx, model.EventEmailDeliveryFailed, model.JSONMap{
			"prescription_id":  evt.PrescriptionID,
			"reference_number": evt.ReferenceNumber,
			"recipient":        evt.PatientEmail,
			"error":            sendErr.Error(),
		})
		if err != nil {
			c.logger.Error(err, "failed to record email delivery failure")
		}
	}
}
