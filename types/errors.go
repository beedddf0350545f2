package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrAuthTokenInvalid     = errors.New("auth token invalid")
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrStoreTypeUnknown = errors.New("store type unknown")
	ErrKeyEmpty         = errors.New("key is empty")
)

var (
	ErrInvalidPattern      = errors.New("invalid pattern")
	ErrDuplicateRule       = errors.New("duplicate rule")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrRuleInvalid         = errors.New("rule invalid")
	ErrInvalidationTimeout = errors.New("invalidation timeout")
	ErrQueueOverload       = errors.New("queue overload")
	ErrBatchJobNotFound    = errors.New("batch job not found")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrInvalidEvent        = errors.New("invalid event")
)

var (
	ErrBroadcastNotRunning   = errors.New("broadcast gateway not running")
	ErrBroadcastChannelFull  = errors.New("broadcast channel full")
	ErrWebhookDeliveryFailed = errors.New("webhook delivery failed")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobExists         = errors.New("cron job already exists")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
	ErrMetricsNotRunning  = errors.New("metrics manager is not running")
)

var (
	ErrMonitorStorageFailed = errors.New("monitor storage failed")
)

var (
	ErrLoggerTypeUnknown = errors.New("logger type unknown")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
