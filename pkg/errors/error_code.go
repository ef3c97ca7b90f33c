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
	ErrCodeInvalidQuantity      ErrorCode = 103
	ErrCodeInvalidPrice         ErrorCode = 104
	ErrCodeInvalidGranularity   ErrorCode = 105
	ErrCodeInvalidTimezone      ErrorCode = 106
	ErrCodeInvalidReplayMode    ErrorCode = 107

	// Feed/data errors (200-299)
	ErrCodeFeedNotFound        ErrorCode = 200
	ErrCodeFeedAlreadyExists   ErrorCode = 201
	ErrCodeFeedStartFailed     ErrorCode = 202
	ErrCodeFeedNotReady        ErrorCode = 203
	ErrCodeDataLoadFailed      ErrorCode = 204
	ErrCodeDataQueryFailed     ErrorCode = 205
	ErrCodeResampleFailed      ErrorCode = 206
	ErrCodeRollbackUnsupported ErrorCode = 207

	// Replay errors (300-399)
	ErrCodeReplayStartFailed ErrorCode = 300
	ErrCodeReplayNoFeeds     ErrorCode = 301

	// Broker/trading errors (500-599)
	ErrCodeOrderNotFound     ErrorCode = 500
	ErrCodeOrderTerminal     ErrorCode = 501
	ErrCodeOrderRejected     ErrorCode = 502
	ErrCodeInsufficientCash  ErrorCode = 503
	ErrCodeUnknownBrokerKind ErrorCode = 504
	ErrCodeNoMarketPrice     ErrorCode = 505

	// Cerebro errors (600-699)
	ErrCodeCerebroNotPrepared   ErrorCode = 600
	ErrCodeCerebroRunning       ErrorCode = 601
	ErrCodeNoStrategies         ErrorCode = 602
	ErrCodeNoFeeds              ErrorCode = 603
	ErrCodeTimezoneMismatch     ErrorCode = 604
	ErrCodeDataReadyTimeout     ErrorCode = 605
	ErrCodeUnknownCerebroKind   ErrorCode = 606
	ErrCodeStrategyStartFailed  ErrorCode = 607
	ErrCodeObserverReportFailed ErrorCode = 608
)
