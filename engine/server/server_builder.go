package server

import "go.uber.org/zap"

// ServerBuilderOption is a functional option used to configure a Server.
type ServerBuilderOption func(*server)

// WithAddr sets the listen address. Defaults to 127.0.0.1:7070.
//
// Parameters:
//   - addr: the host:port to listen on
//
// Returns:
//   - ServerBuilderOption: a function that sets the address
func WithAddr(addr string) ServerBuilderOption {
	return func(s *server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithLogger sets the logger requests and lifecycle events are written to.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - ServerBuilderOption: a function that sets the logger
func WithLogger(logger *zap.Logger) ServerBuilderOption {
	return func(s *server) {
		s.logger = logger
	}
}
