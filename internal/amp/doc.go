// Package amp speaks the Monoprice MPR-6ZHMAUT control protocol and
// keeps the authoritative in-memory picture of every zone.
//
// The protocol is a half-duplex ASCII exchange over RS232: commands end
// with a bare CR, the amp echoes every byte, and each reply chunk ends
// with CR LF '#'. Up to three units daisy-chain on one port, addressed
// by two-digit zone IDs ("11".."36", with "x0" and "00" as virtual
// broadcast zones).
//
// Layering, bottom up:
//
//   - Port abstracts the byte transport (local serial device or a
//     remote TCP serial bridge) behind one timeout contract.
//   - Conn frames command exchanges on a Port: echo verification,
//     chunk collection, rejection detection, and resync recovery.
//   - Negotiator finds the amp's baud rate at startup and optionally
//     moves the link to a faster configured rate.
//   - Store holds last known zone state and reconciles optimistic
//     writes against poll results. The amp is the source of truth:
//     when a poll disagrees with a value published optimistically, the
//     polled value wins and a corrective change is emitted.
//   - Scheduler owns the bus: one goroutine drains queued writes,
//     coalesces them, executes them, and polls every configured amp.
//
// Everything above this package (MQTT mapping, volume following,
// persistence) consumes Change events and submits PendingWrites; it
// never touches the port.
package amp
