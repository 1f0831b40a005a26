package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrderRequest  ErrorCode = 102
	ErrCodeInvalidTakeProfit    ErrorCode = 103
	ErrCodeInvalidStopLoss      ErrorCode = 104
	ErrCodeInvalidVolume        ErrorCode = 105
	ErrCodeInsufficientData     ErrorCode = 106
	ErrCodeInvalidType          ErrorCode = 107
	ErrCodeInvalidPeriod        ErrorCode = 108
	ErrCodeMissingParameter     ErrorCode = 109
	ErrCodeInvalidProfile       ErrorCode = 110

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound        ErrorCode = 200
	ErrCodeQueryFailed         ErrorCode = 201
	ErrCodeCandleFetchFailed   ErrorCode = 202
	ErrCodeSnapshotUnavailable ErrorCode = 203

	// Broker errors (500-599)
	ErrCodeOrderRejected      ErrorCode = 500
	ErrCodePositionNotFound   ErrorCode = 501
	ErrCodePriceUnavailable   ErrorCode = 502
	ErrCodeModifyFailed       ErrorCode = 503
	ErrCodeCloseFailed        ErrorCode = 504
	ErrCodePartialCloseFailed ErrorCode = 505
	ErrCodeBrokerUnavailable  ErrorCode = 506

	// Grid errors (600-699)
	ErrCodeGridNotRunning     ErrorCode = 600
	ErrCodeGridLevelClaimed   ErrorCode = 601
	ErrCodeGridNearbyPosition ErrorCode = 602

	// Hedge errors (700-799)
	ErrCodeHedgeLevelClosed  ErrorCode = 700
	ErrCodeHedgeLimitReached ErrorCode = 701
	ErrCodeHedgeZoneStale    ErrorCode = 702

	// Journal errors (800-899)
	ErrCodeJournalInitFailed  ErrorCode = 800
	ErrCodeJournalWriteFailed ErrorCode = 801
)
