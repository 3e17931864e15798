package protocol

// This package implements classifying and writing the lines that tcpserial
// peers exchange over a plain TCP stream.
//
// The protocol aims to
//
// - look like a serial line to the applications on either end
// - be human readable, so it can be driven from netcat or a terminal
// - keep its control traffic out of the application's view
//
// === General Syntax
//
// - lines are `\n` delimited, an optional `\r` before the `\n` is ignored
// - there is no length prefix and no escaping
// - control tokens are matched case-insensitively on receive and always sent
//   in upper case
//
// === Control tokens
//
// - `ACK`         - acknowledges the preceding non-control line. Never ACKed itself.
// - `BA-BUM`      - heartbeat, sent every heartbeat interval. Never ACKed.
// - `WHOAMI`      - client asks the server which client number it is.
// - `CLIENT #<n>` - server tells a client its number. Sent as a welcome banner
//                   straight after accept and in reply to `WHOAMI`.
// - `RESET`       - broadcast by the server when its listener fails, clients
//                   should re-handshake.
//
// Any other line is application data.
//
// === Delivery
//
//  ```
//    > HELLO\n
//    < ACK\n
//  ```
//
// A sender writes a data line and waits a short while for the ACK. If none
// arrives it sends the line again, at most three times in total. After that the
// line is dropped and the sender raises a local `NAK: <line>` notification.
// `NAK` is never written to the wire.
//
// === Identity
//
//  ```
//    < CLIENT #3\n      (welcome banner)
//    > ACK\n
//    > WHOAMI\n
//    < ACK\n
//    < CLIENT #3\n
//    > ACK\n
//  ```
//
