//go:build linux

package serial

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/go-serial-channel/codec"
	"github.com/luhtfiimanal/go-serial-channel/eventloop"
)

func openPTY(t *testing.T) (master, slave *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	return master, slave
}

func runLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop := eventloop.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return loop
}

func TestNativeDevice_ChatMasterSlave(t *testing.T) {
	master, slave := openPTY(t)
	loop := runLoop(t)

	fromMaster := make(chan string, 1)
	lines := codec.NewLineDecoder("\n", func(line string) { fromMaster <- line })
	ch := NewChannel(NativeDevice{}, loop, PipelineFuncs{OnRead: lines.Decode})
	ch.Config().SetBaudRate(115200)
	t.Cleanup(func() { ch.Close() })

	require.NoError(t, wait(t, ch.Connect(NewDeviceAddress(slave.Name()))))

	// 1. Master writes to slave, channel should receive
	_, err := master.Write([]byte("ping\n"))
	require.NoError(t, err)

	select {
	case msg := <-fromMaster:
		require.Equal(t, "ping", msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel to receive from master")
	}

	// 2. Channel writes to master, master should receive
	require.NoError(t, wait(t, ch.Write(codec.EncodeLine("pong", "\n"))))

	buf := make([]byte, 128)
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong\n", string(buf[:n]))
}

func TestNativeDevice_CloseStopsReading(t *testing.T) {
	master, slave := openPTY(t)
	loop := runLoop(t)

	inactive := make(chan struct{})
	ch := NewChannel(NativeDevice{}, loop, PipelineFuncs{OnInactive: func() { close(inactive) }})
	require.NoError(t, wait(t, ch.Connect(NewDeviceAddress(slave.Name()))))

	// Give the reader a chance to block in its poll loop
	time.Sleep(50 * time.Millisecond)
	_, err := master.Write([]byte("test data\n"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, wait(t, ch.Close()))
	select {
	case <-inactive:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for inactive after Close")
	}
	require.False(t, ch.IsOpen())

	// Should be a no-op
	require.NoError(t, wait(t, ch.Close()))
}

func TestNativeDevice_HangupClosesChannel(t *testing.T) {
	master, slave := openPTY(t)
	loop := runLoop(t)

	ch := NewChannel(NativeDevice{}, loop, nil)
	require.NoError(t, wait(t, ch.Connect(NewDeviceAddress(slave.Name()))))

	// Simulate device disconnect by closing master
	require.NoError(t, master.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ch.CloseFuture().Wait(ctx))
	require.Equal(t, StateClosed, ch.State())
}

func TestNativeDevice_HangupReadsAsError(t *testing.T) {
	master, slave := openPTY(t)

	port, err := NativeDevice{}.Open(slave.Name(), NewConfig().Snapshot())
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })
	in := port.InputStream()

	// idle line: nothing to read, no error
	buf := make([]byte, 16)
	n, err := in.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, master.Close())

	var readErr error
	require.Eventually(t, func() bool {
		_, readErr = in.Read(buf)
		return readErr != nil
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, readErr, io.ErrUnexpectedEOF)
	require.ErrorContains(t, readErr, slave.Name())
}

func TestNativeDevice_RejectsUnsupportedLine(t *testing.T) {
	_, slave := openPTY(t)

	tests := []struct {
		name string
		s    Settings
	}{
		{"one and a half stop bits", Settings{BaudRate: 9600, DataBits: DataBits8, StopBits: OnePointFiveStopBits}},
		{"nonstandard baud", Settings{BaudRate: 12345, DataBits: DataBits8, StopBits: OneStopBit}},
		{"nine data bits", Settings{BaudRate: 9600, DataBits: DataBits(9), StopBits: OneStopBit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NativeDevice{}.Open(slave.Name(), tt.s)
			require.ErrorIs(t, err, ErrUnsupportedLineConfig)
		})
	}
}

func TestNativeDevice_UnsupportedLineLeavesChannelIdle(t *testing.T) {
	_, slave := openPTY(t)
	loop := runLoop(t)

	ch := NewChannel(NativeDevice{}, loop, nil)
	ch.Config().SetStopBits(OnePointFiveStopBits)
	require.ErrorIs(t, wait(t, ch.Connect(NewDeviceAddress(slave.Name()))), ErrUnsupportedLineConfig)
	require.Equal(t, StateIdle, ch.State())
	require.False(t, ch.IsOpen())
}

func TestNativeDevice_MissingDevice(t *testing.T) {
	_, err := NativeDevice{}.Open("/dev/does-not-exist", NewConfig().Snapshot())
	require.ErrorIs(t, err, ErrOpenFailed)
	require.ErrorContains(t, err, "/dev/does-not-exist")
}

func TestNativeDevice_StreamsOverPTY(t *testing.T) {
	master, slave := openPTY(t)

	s := NewConfig().SetParity(EvenParity).SetStopBits(TwoStopBits).SetRTS(true).Snapshot()
	port, err := NativeDevice{}.Open(slave.Name(), s)
	require.NoError(t, err)

	in := NewInputStream(port.InputStream())
	out := NewOutputStream(port.OutputStream())

	require.Zero(t, in.Available())
	_, err = master.Write([]byte("abc"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return in.Available() == 3 }, time.Second, time.Millisecond)

	buf := make([]byte, 8)
	n, err := in.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))

	require.NoError(t, out.WriteByte('z'))
	require.NoError(t, out.Flush())
	n, err = master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "z", string(buf[:n]))

	require.NoError(t, in.Close())
	require.NoError(t, out.Close())
	require.NoError(t, port.Close())
	require.NoError(t, port.Close())

	_, err = port.InputStream().Read(buf)
	require.ErrorIs(t, err, ErrStreamClosed)
}
