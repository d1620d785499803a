package ailink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tripbundle/tripbundle/internal/ailink/driver"
)

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		message    string
		want       ErrorClass
	}{
		{"auth", 401, "boom", ClassAuth},
		{"forbidden", 403, "boom", ClassAuth},
		{"rate", 429, "slow down", ClassRateLimit},
		{"bad", 400, "bad schema", ClassBadRequest},
		{"bad key", 400, "API key not valid. Please pass a valid API key.", ClassAuth},
		{"unavail", 503, "boom", ClassUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &driver.ProviderError{Provider: "openai", StatusCode: tc.statusCode, Message: tc.message})
			require.Equal(t, tc.want, Classify(err))
		})
	}
}

func TestClassifyTransportFailures(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "api.openai.invalid", IsNotFound: true}
	require.Equal(t, ClassUnreachable, Classify(fmt.Errorf("request failed: %w", dnsErr)))

	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	require.Equal(t, ClassUnreachable, Classify(dialErr))

	require.Equal(t, ClassTimeout, Classify(fmt.Errorf("request failed: %w", context.DeadlineExceeded)))
	require.Equal(t, ClassAuth, Classify(ErrNoCredential))
	require.Equal(t, ClassMalformed, Classify(&RawResponseError{Err: errors.New("bad json")}))
	require.Equal(t, ClassUnknown, Classify(errors.New("mystery")))
	require.Equal(t, ClassNone, Classify(nil))

	require.True(t, ClassAuth.IsRequestFatal())
	require.True(t, ClassUnreachable.IsRequestFatal())
	require.False(t, ClassRateLimit.IsRequestFatal())
	require.False(t, ClassTimeout.IsRequestFatal())
}
