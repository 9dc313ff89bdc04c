package email

import (
	"context"
)

type Service interface {
	SendPrescriptionIssued(ctx context.Context, to, patientName, referenceNumber string, qrPNG []byte) error
	SendCustom(ctx context.Context, to string, subject string, content string) error
}
