// Package vpn implements the OpenVPN session controller for ovpnctl.
//
// The package is organized around three cooperating pieces:
//
//   - ManagementClient: the TCP client for OpenVPN's management interface.
//     It frames the byte stream into newline-delimited protocol lines and
//     provides the command-send primitive.
//   - ParseLine: the management protocol parser. Each line becomes a state
//     transition, a log message, or a credential request; unknown message
//     types are ignored for forward compatibility.
//   - Controller: the session controller. It spawns OpenVPN with elevated
//     privileges through a Launcher, connects the management channel,
//     performs the startup handshake (state on, log on, hold release), and
//     forwards parsed events to a SessionListener.
//
// Exactly one session is active at a time. All session state lives on the
// Controller instance; there are no package-level globals.
//
// # Session Flow
//
//  1. A front-end resolves a configuration via ConfigStore.PrimaryFile.
//  2. Controller.Start spawns OpenVPN and completes the handshake.
//  3. Management events stream in: the controller updates its state and
//     forwards each event to the registered SessionListener.
//  4. On >PASSWORD: the front-end collects credentials and calls
//     SubmitCredentials.
//  5. Controller.Stop sends SIGTERM and tears the channel down.
//
// # Concurrency
//
// The management client delivers all inbound data from a single reader
// goroutine, so framing, parsing, state updates, and listener callbacks are
// strictly sequential. Start and Stop are the only blocking operations;
// each waits under an explicit timeout and reports expiry instead of
// hanging.
package vpn
