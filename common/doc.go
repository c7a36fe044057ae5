// Package common provides shared constants, types, utilities, and interfaces
// used throughout ovpnctl.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: application-wide constants like the management endpoint,
//     timeouts, and file names
//   - Errors: sentinel errors for consistent error handling across packages
//   - Interfaces: abstractions for credential storage, notifications,
//     and logging
//   - Logger: leveled logging with file rotation
//
// # Usage
//
// Import the package to access shared functionality:
//
//	import "github.com/yllada/ovpnctl/common"
//
//	// Use constants
//	timeout := common.ManagementTimeout
//
//	// Use logger
//	common.LogInfo("Starting session for %s", configName)
//
//	// Check errors
//	if errors.Is(err, common.ErrAlreadyConnected) {
//	    // Handle concurrent start attempt
//	}
package common
