package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/oxtoacart/bpool"
)

// relayBuffers pools the copy buffers shared by all relays.
var relayBuffers = bpool.NewBytePool(256, 32*1024)

// CopyBidirectional relays bytes between left and right until either
// direction finishes, then closes both connections so the other direction
// unblocks promptly. Canceling ctx tears the pair down the same way.
//
// It returns the bytes copied left-to-right and right-to-left, and the first
// error that was not a side effect of the teardown.
func CopyBidirectional(ctx context.Context, left, right net.Conn) (leftToRight, rightToLeft int64, err error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var (
		wg     sync.WaitGroup
		errLTR error
		errRTL error
	)
	wg.Go(func() {
		defer closeBoth()
		leftToRight, errLTR = copyPooled(right, left)
	})
	wg.Go(func() {
		defer closeBoth()
		rightToLeft, errRTL = copyPooled(left, right)
	})
	wg.Wait()

	err = firstRelayError(errLTR, errRTL)
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return leftToRight, rightToLeft, err
}

func copyPooled(dst io.Writer, src io.Reader) (int64, error) {
	buf := relayBuffers.Get()
	defer relayBuffers.Put(buf)
	return io.CopyBuffer(dst, src, buf)
}

// firstRelayError picks the first real error, skipping the use-of-closed
// errors the losing direction reports once the winner closed the pair.
func firstRelayError(errs ...error) error {
	for _, err := range errs {
		if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			continue
		}
		return err
	}
	return nil
}
