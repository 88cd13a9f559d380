// Package codec holds byte stream stages that sit between a serial channel
// and application code: a delimiter based line codec and a COBS framed
// packet codec with a CRC16 trailer.
//
// Decoders are fed the chunks a channel delivers in Pipeline.FireRead and
// call back once per complete message. They keep partial input between
// calls and are not safe for concurrent use; a channel only calls its
// pipeline from one event loop task at a time.
package codec
