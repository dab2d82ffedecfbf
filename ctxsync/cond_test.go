// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ctxsync

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCondBroadcast(t *testing.T) {
	var mu sync.Mutex
	cond := NewCond(&mu)
	var ready, done sync.WaitGroup
	const N = 4
	ready.Add(N)
	done.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			mu.Lock()
			ready.Done()
			if err := cond.Wait(context.Background()); err != nil {
				t.Error(err)
			}
			mu.Unlock()
			done.Done()
		}()
	}
	ready.Wait()
	mu.Lock()
	cond.Broadcast()
	mu.Unlock()
	done.Wait()
}

func TestCondCancel(t *testing.T) {
	var mu sync.Mutex
	cond := NewCond(&mu)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		mu.Lock()
		errc <- cond.Wait(ctx)
		mu.Unlock()
	}()
	cancel()
	select {
	case err := <-errc:
		if got, want := err, context.Canceled; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not respect cancellation")
	}
}
