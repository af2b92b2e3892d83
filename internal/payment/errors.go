package payment

import "errors"

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrGatewayPrepare       = errors.New("gateway pre-registration failed")
	ErrUntrustedTransaction = errors.New("untrusted transaction: gateway has no paid record")
	ErrTamperedTransaction  = errors.New("abnormal transaction: gateway record does not match stored transaction")
	ErrDuplicateIdentifier  = errors.New("duplicate merchant order id")
	ErrTransactionNotFound  = errors.New("transaction not found")
)
