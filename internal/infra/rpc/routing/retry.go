package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vietddude/buywatch/internal/infra/rpc/provider"
)

// RetryConfig defines retry behavior for a single provider.
type RetryConfig struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

func (a ErrorAction) String() string {
	switch a {
	case ActionFailover:
		return "failover"
	case ActionFatal:
		return "fatal"
	default:
		return "retry"
	}
}

// JSON-RPC codes no other endpoint would answer differently: parse error, invalid
// request, method not found, invalid params.
var fatalCodes = map[int]bool{-32700: true, -32600: true, -32601: true, -32602: true}

// ClassifyError decides how the client reacts to err. Typed provider errors are
// classified by their fields; anything else falls back to the message.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}

	var (
		throttle  *provider.ThrottleError
		statusErr *provider.StatusError
		rpcErr    *provider.RPCError
	)
	switch {
	case errors.As(err, &throttle):
		return ActionFailover
	case errors.As(err, &statusErr):
		switch statusErr.Code {
		case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
			return ActionFailover
		}
		return ActionRetry
	case errors.As(err, &rpcErr):
		if fatalCodes[rpcErr.Code] {
			return ActionFatal
		}
		if provider.IsThrottleMessage(rpcErr.Message) {
			return ActionFailover
		}
		return ActionRetry
	}
	return classifyText(err.Error())
}

func classifyText(msg string) ErrorAction {
	for code := range fatalCodes {
		if strings.Contains(msg, strconv.Itoa(code)) {
			return ActionFatal
		}
	}
	lower := strings.ToLower(msg)
	if provider.IsThrottleMessage(lower) {
		return ActionFailover
	}
	for _, m := range []string{"429", "403", "forbidden", "unauthorized", "quota", "plan limit", "throttle"} {
		if strings.Contains(lower, m) {
			return ActionFailover
		}
	}
	return ActionRetry
}

// CallWithRetry executes an RPC call against one provider with exponential backoff.
// Fatal and failover errors stop the loop immediately.
func CallWithRetry(
	ctx context.Context,
	p provider.Provider,
	method string,
	params []any,
	config RetryConfig,
) (json.RawMessage, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = config.InitialDelay
	policy.MaxInterval = config.MaxDelay

	operation := func() (json.RawMessage, error) {
		result, err := p.Call(ctx, method, params)
		if err == nil {
			return result, nil
		}
		if ClassifyError(err) != ActionRetry {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	tries := config.MaxAttempts
	if tries == 0 {
		tries = 1
	}
	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Debug("Retrying RPC call", "provider", p.GetName(), "method", method, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s via %s: %w", method, p.GetName(), err)
	}
	return result, nil
}
