// Package serial adapts a blocking serial device into an event driven
// channel with the connect, read, write and close lifecycle of a network
// connection.
//
// A Channel opens its device through a Device driver, polls the device for
// input on its own goroutine and reports activation, inbound data and
// deactivation to a Pipeline from an EventLoop. Line parameters and channel
// options live in a Config; a snapshot of it is taken on every Connect.
//
// Features:
//   - Native Linux driver on termios, no buffering between kernel and channel
//   - Portable driver on go.bug.st/serial
//   - Configurable settling delay between Connect and the device open
//   - Back-off polling reads that treat "no data" as "not yet", not EOF
//   - Close that always releases the device, even when stream teardown fails
//
// Example usage:
//
//	loop := eventloop.New(zerolog.Nop())
//	go loop.Run(ctx)
//
//	lines := codec.NewLineDecoder("\r\n", func(line string) {
//	    fmt.Println("Received:", line)
//	})
//	ch := serial.NewChannel(serial.NativeDevice{}, loop, serial.PipelineFuncs{
//	    OnRead: lines.Decode,
//	})
//	ch.Config().SetBaudRate(19200).SetParity(serial.EvenParity)
//	if err := ch.Config().SetSettlingDelay(500 * time.Millisecond); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := ch.Connect(serial.NewDeviceAddress("/dev/ttyUSB0")).Wait(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	ch.Write(codec.EncodeLine("C,START", "\r\n"))
//
//	// ... later, from any goroutine
//	ch.Close().Wait(ctx)
//
// Config.ReadTimeout is advisory only: the channel polls until data arrives
// or it is closed. Protocols that need a response deadline must enforce it
// above the channel.
package serial
