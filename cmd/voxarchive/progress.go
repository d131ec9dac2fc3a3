package main

import (
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

type stopFunc func()

func startSpinner(enabled bool, description string) stopFunc {
	if !enabled {
		return func() {}
	}

	bar := progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-doneCh
		})
	}
}

// countBar tracks finished jobs out of a known total. A disabled bar
// swallows updates.
type countBar struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newCountBar(enabled bool, description string, total int) *countBar {
	if !enabled || total <= 0 {
		return &countBar{}
	}
	return &countBar{bar: progressbar.NewOptions(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)}
}

func (c *countBar) Add() {
	if c.bar == nil {
		return
	}
	c.mu.Lock()
	_ = c.bar.Add(1)
	c.mu.Unlock()
}

func (c *countBar) Finish() {
	if c.bar == nil {
		return
	}
	c.mu.Lock()
	_ = c.bar.Finish()
	c.mu.Unlock()
}
