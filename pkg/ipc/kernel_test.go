package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSendRecvStampsSender(t *testing.T) {
	k := NewKernel()
	a := k.AllocServiceID()
	b := k.AllocServiceID()

	ea, eb := k.NewChannel(a, b)

	require.NoError(t, ea.Send([]byte("hello")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := eb.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, env.SenderServiceID)
	assert.Equal(t, []byte("hello"), env.Payload)
}

func TestRecvTimesOutWithoutMessage(t *testing.T) {
	k := NewKernel()
	a := k.AllocServiceID()
	b := k.AllocServiceID()
	_, eb := k.NewChannel(a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := eb.Recv(ctx)
	assert.True(t, errs.Is(err, errs.WouldBlock))
}

func TestTransferRestrictsRightsOnly(t *testing.T) {
	k := NewKernel()
	a := k.AllocServiceID()
	b := k.AllocServiceID()
	ea, _ := k.NewChannel(a, b)

	restricted, err := k.Transfer(ea.Cap(), RightSend)
	require.NoError(t, err)
	assert.True(t, restricted.Rights().Has(RightSend))
	assert.False(t, restricted.Rights().Has(RightRecv))

	_, err = k.Transfer(restricted, RightSend|RightRecv)
	assert.True(t, errs.Is(err, errs.PermissionDenied))
}

func TestAsMapRejectsWriteExec(t *testing.T) {
	k := NewKernel()
	_, err := k.AsMap(RightWrite | RightExec)
	assert.True(t, errs.Is(err, errs.InvalidArg))

	cap, err := k.AsMap(RightRead | RightWrite)
	require.NoError(t, err)
	assert.True(t, cap.Rights().Has(RightWrite))
	assert.False(t, cap.Rights().Has(RightExec))
}

func TestMmioMapNeverExec(t *testing.T) {
	k := NewKernel()
	cap := k.MmioMap()
	assert.True(t, cap.Rights().Has(RightRead))
	assert.True(t, cap.Rights().Has(RightWrite))
	assert.False(t, cap.Rights().Has(RightExec))
}

func TestExitFansOutToWaiters(t *testing.T) {
	k := NewKernel()
	id := k.AllocServiceID()
	ch := k.WaitFor(id)

	go k.Exit(id, 7)

	select {
	case info := <-ch:
		assert.Equal(t, 7, info.Code)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for exit notification")
	}
	assert.False(t, k.Alive(id))
}

func TestWaitForUnknownTaskClosesImmediately(t *testing.T) {
	k := NewKernel()
	ch := k.WaitFor(ServiceID(9999))
	_, ok := <-ch
	assert.False(t, ok)
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{Magic: 0xBEEF, Version: 1, OpCode: 3, Body: []byte("payload")}
	buf := f.Encode()

	got, err := DecodeFrame(buf, 0xBEEF)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestDecodeFrameRejectsWrongMagic(t *testing.T) {
	f := Frame{Magic: 0xBEEF, Version: 1, OpCode: 0, Body: nil}
	_, err := DecodeFrame(f.Encode(), 0x1234)
	assert.True(t, errs.Is(err, errs.InvalidArg))
}

func TestDecodeFrameRejectsTruncatedBody(t *testing.T) {
	f := Frame{Magic: 1, Version: 1, OpCode: 0, Body: []byte("abcdef")}
	buf := f.Encode()
	_, err := DecodeFrame(buf[:len(buf)-2], 1)
	assert.True(t, errs.Is(err, errs.InvalidArg))
}
