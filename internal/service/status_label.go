package service

import "github.com/veloxpay/backoffice/internal/domain"

// StatusLabel translates an internal operation status into the label end
// users see. Internal states and failure kinds never leak; a deleted
// operation simply reads as failed. Cancelled operations that timed out
// waiting for payment read as expired.
func StatusLabel(status, opType string, expired bool) string {
	switch status {
	case domain.OpStatusNew:
		return domain.LabelWaitingPayment
	case domain.OpStatusHold, domain.OpStatusActionRequired:
		if opType == domain.OpTypeDeposit {
			return domain.LabelUnconfirmed
		}
		return domain.LabelProcessing
	case domain.OpStatusCommitted:
		return domain.LabelCompleted
	case domain.OpStatusCancelled:
		if expired {
			return domain.LabelExpired
		}
		return domain.LabelCancelled
	case domain.OpStatusDeleted:
		return domain.LabelFailed
	}
	return domain.LabelFailed
}
