package attach

import (
	"errors"
	"log/slog"
)

// ServiceOption configures a Service.
type ServiceOption func(*Service) error

// WithLogger sets the service logger. Logging is discarded by default.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		s.logger = logger
		return nil
	}
}

// WithTrust sets the oracle deciding which uploader identities may
// overwrite the recorded uploader on a duplicate import. The default
// privileges the "app" and "rpc" tags.
func WithTrust(oracle TrustOracle) ServiceOption {
	return func(s *Service) error {
		if oracle == nil {
			return errors.New("trust oracle is nil")
		}
		s.trust = oracle
		return nil
	}
}

// WithMetrics sets the sink receiving the stored-attachment count.
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) error {
		if m == nil {
			return errors.New("metrics sink is nil")
		}
		s.metrics = m
		return nil
	}
}

// WithHashVerification toggles wrapping content streams in a
// VerifyingReader. Enabled by default; disable only when the caller
// performs its own integrity checking.
func WithHashVerification(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.verifyHashes = enabled
		return nil
	}
}

// WithContentCacheWeight bounds the content cache by total byte weight
// (hash size plus raw content length per entry).
func WithContentCacheWeight(maxWeight int64) ServiceOption {
	return func(s *Service) error {
		if maxWeight <= 0 {
			return errors.New("content cache weight must be positive")
		}
		s.contentCacheWeight = maxWeight
		return nil
	}
}

// WithPresenceCacheSize bounds the presence cache by entry count.
func WithPresenceCacheSize(size int) ServiceOption {
	return func(s *Service) error {
		if size <= 0 {
			return errors.New("presence cache size must be positive")
		}
		s.presenceCacheSize = size
		return nil
	}
}
