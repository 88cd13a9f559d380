package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedSource reports "no data" a fixed number of times before handing
// out its bytes.
type scriptedSource struct {
	mu     sync.Mutex
	empty  int
	data   []byte
	avail  int
	err    error
	reads  atomic.Int32
	closes atomic.Int32
}

func (s *scriptedSource) Read(p []byte) (int, error) {
	s.reads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if s.empty > 0 {
		s.empty--
		return 0, nil
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

func (s *scriptedSource) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.avail != 0 {
		return s.avail, nil
	}
	return len(s.data), nil
}

func (s *scriptedSource) Close() error {
	s.closes.Add(1)
	return nil
}

func TestInputStream_BacksOffUntilData(t *testing.T) {
	const empty = 5
	src := &scriptedSource{empty: empty, data: []byte{0x7e}}
	in := NewInputStream(src)

	start := time.Now()
	b, err := in.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x7e), b)

	require.EqualValues(t, empty+1, src.reads.Load())
	require.GreaterOrEqual(t, time.Since(start), empty*BackoffInterval)
}

func TestInputStream_StopDuringBackoffIsSoftEOF(t *testing.T) {
	src := &scriptedSource{empty: 1 << 30}
	in := NewInputStream(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := in.ReadByteContext(ctx)
		done <- err
	}()

	time.Sleep(3 * BackoffInterval)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(BackoffInterval * 5):
		t.Fatal("read did not stop after cancel")
	}
}

func TestInputStream_CloseDuringRead(t *testing.T) {
	src := &scriptedSource{empty: 1 << 30}
	in := NewInputStream(src)

	done := make(chan error, 1)
	go func() {
		_, err := in.ReadByte()
		done <- err
	}()

	time.Sleep(2 * BackoffInterval)
	closed := time.Now()
	require.NoError(t, in.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, io.EOF)
		require.Less(t, time.Since(closed), 2*BackoffInterval)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("read hung after close")
	}

	_, err := in.ReadByte()
	require.ErrorIs(t, err, ErrStreamClosed)
	_, err = in.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrStreamClosed)

	require.NoError(t, in.Close())
	require.EqualValues(t, 1, src.closes.Load())
}

func TestInputStream_ReadDrainsAvailable(t *testing.T) {
	src := &scriptedSource{empty: 2, data: []byte("hello")}
	in := NewInputStream(src)

	buf := make([]byte, 3)
	n, err := in.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hel", string(buf[:n]))

	n, err = in.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "lo", string(buf[:n]))
}

func TestInputStream_AvailableClamped(t *testing.T) {
	src := &scriptedSource{avail: -3}
	in := NewInputStream(src)
	require.Zero(t, in.Available())

	src.avail = 4
	require.Equal(t, 4, in.Available())

	require.NoError(t, in.Close())
	require.Zero(t, in.Available())

	// sources that cannot tell report nothing ready
	require.Zero(t, NewInputStream(io.NopCloser(bytes.NewReader([]byte{1}))).Available())
}

func TestInputStream_SourceErrorPropagates(t *testing.T) {
	boom := errors.New("device unplugged")
	in := NewInputStream(&scriptedSource{err: boom})
	_, err := in.ReadByte()
	require.ErrorIs(t, err, boom)
}

type recordingSink struct {
	bytes.Buffer
	flushes int
	closes  int
}

func (s *recordingSink) Flush() error { s.flushes++; return nil }
func (s *recordingSink) Close() error { s.closes++; return nil }

func TestOutputStream_PassThrough(t *testing.T) {
	sink := &recordingSink{}
	out := NewOutputStream(sink)

	n, err := out.Write([]byte("AT"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, out.WriteByte('\r'))
	require.NoError(t, out.Flush())
	require.Equal(t, "AT\r", sink.String())
	require.Equal(t, 1, sink.flushes)

	require.NoError(t, out.Close())
	require.NoError(t, out.Close())
	require.Equal(t, 1, sink.closes)

	_, err = out.Write([]byte("x"))
	require.ErrorIs(t, err, ErrStreamClosed)
	require.ErrorIs(t, out.Flush(), ErrStreamClosed)
	require.Equal(t, "AT\r", sink.String())
}
