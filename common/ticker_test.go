package common

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTickerFiresImmediatelyAndPeriodically(t *testing.T) {
	subject := Ticker{}
	var count int32

	subject.Start(time.Millisecond*100, func() {
		atomic.AddInt32(&count, 1)
	})
	defer subject.Stop()

	time.Sleep(time.Millisecond * 250)

	if c := atomic.LoadInt32(&count); c < 2 {
		t.Errorf("Wrong number of invocations: %v", c)
	}
}

func TestTickerStop(t *testing.T) {
	subject := Ticker{}
	var count int32

	subject.Start(time.Millisecond*100, func() {
		atomic.AddInt32(&count, 1)
	})
	time.Sleep(time.Millisecond * 50)
	subject.Stop()
	before := atomic.LoadInt32(&count)

	time.Sleep(time.Millisecond * 250)

	if after := atomic.LoadInt32(&count); after != before {
		t.Errorf("Ticker fired after Stop: %v -> %v", before, after)
	}
}

func TestTickerStopAfterStop(t *testing.T) {
	subject := Ticker{}

	subject.Start(time.Millisecond*100, func() {})
	subject.Stop()
	subject.Stop()
}
